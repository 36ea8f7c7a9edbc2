// Package listing holds the marketplace data model, the Listing Store and the
// review state machine that moves submissions from pending to approved or rejected.
package listing

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Type is the kind of thing being listed.
type Type string

const (
	TypeAgent Type = "agent"
	TypeTool  Type = "tool"
	TypeApp   Type = "app"
)

// Valid reports whether t is a known listing type.
func (t Type) Valid() bool {
	switch t {
	case TypeAgent, TypeTool, TypeApp:
		return true
	}
	return false
}

// ReviewState is the moderation status of a listing.
type ReviewState string

const (
	StatePending  ReviewState = "pending"
	StateApproved ReviewState = "approved"
	StateRejected ReviewState = "rejected"
)

// CanTransition reports whether a listing in state from may move to state to.
// Only pending listings can be reviewed; approved and rejected are terminal.
func CanTransition(from, to ReviewState) bool {
	return from == StatePending && (to == StateApproved || to == StateRejected)
}

// Visibility is the public prominence of an approved listing.
type Visibility string

const (
	VisibilityNone     Visibility = ""
	VisibilityPublic   Visibility = "public"
	VisibilityFeatured Visibility = "featured"
)

// ParseVisibility maps request input to a Visibility. Empty input means public.
func ParseVisibility(s string) (Visibility, error) {
	switch Visibility(strings.TrimSpace(s)) {
	case VisibilityNone, VisibilityPublic:
		return VisibilityPublic, nil
	case VisibilityFeatured:
		return VisibilityFeatured, nil
	}
	return VisibilityNone, &ValidationError{Field: "visibility", Message: `must be "public" or "featured"`}
}

// ProductStatus is the maturity of the listed product, independent of review.
type ProductStatus string

const (
	ProductLive    ProductStatus = "live"
	ProductBeta    ProductStatus = "beta"
	ProductConcept ProductStatus = "concept"
)

// Valid reports whether s is a known product status.
func (s ProductStatus) Valid() bool {
	switch s {
	case ProductLive, ProductBeta, ProductConcept:
		return true
	}
	return false
}

// Listing is a submitted agent, tool or app.
type Listing struct {
	ID               string        `db:"id"                json:"id"`
	Slug             string        `db:"slug"              json:"slug"`
	Name             string        `db:"name"              json:"name"`
	Type             Type          `db:"type"              json:"type"`
	ShortDescription string        `db:"short_description" json:"short_description"`
	LongDescription  string        `db:"long_description"  json:"long_description,omitempty"`
	Tags             StringSet     `db:"tags"              json:"tags"`
	Categories       StringSet     `db:"categories"        json:"categories"`
	Links            Links         `db:"links"             json:"links"`
	IconURL          string        `db:"icon_url"          json:"icon_url,omitempty"`
	ThumbnailURL     string        `db:"thumbnail_url"     json:"thumbnail_url,omitempty"`
	Status           ProductStatus `db:"status"            json:"status"`
	ReviewState      ReviewState   `db:"review_state"      json:"review_state"`
	Visibility       Visibility    `db:"visibility"        json:"visibility,omitempty"`
	RejectionReason  string        `db:"rejection_reason"  json:"rejection_reason,omitempty"`
	SubmitterWallet  string        `db:"submitter_wallet"  json:"submitter_wallet"`
	BuilderID        string        `db:"builder_id"        json:"builder_id"`
	CreatedAt        time.Time     `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at"        json:"updated_at"`
	ThinkFit         *ThinkFit     `db:"think_fit"         json:"think_fit,omitempty"`

	Builder *BuilderSummary `db:"-" json:"builder,omitempty"`
}

// Public reports whether the listing may be resolved by slug on public read paths.
func (l *Listing) Public() bool {
	return l.ReviewState == StateApproved
}

// Featured reports whether the listing is approved with featured visibility.
func (l *Listing) Featured() bool {
	return l.ReviewState == StateApproved && l.Visibility == VisibilityFeatured
}

// Builder is the person or team owning listings.
type Builder struct {
	ID        string    `db:"id"         json:"id"`
	Slug      string    `db:"slug"       json:"slug"`
	Name      string    `db:"name"       json:"name"`
	Bio       string    `db:"bio"        json:"bio,omitempty"`
	Website   string    `db:"website"    json:"website,omitempty"`
	Twitter   string    `db:"twitter"    json:"twitter,omitempty"`
	GitHub    string    `db:"github"     json:"github,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Summary returns the short form embedded in listings.
func (b *Builder) Summary() *BuilderSummary {
	return &BuilderSummary{Name: b.Name, Slug: b.Slug, Bio: b.Bio, Website: b.Website}
}

// BuilderSummary is the builder view attached to a listing.
type BuilderSummary struct {
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	Bio     string `json:"bio,omitempty"`
	Website string `json:"website,omitempty"`
}

// Counts is the number of listings per review state.
type Counts struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Featured int `json:"featured"`
}

// StringSet is a de-duplicated, sorted list of strings stored as a JSON array.
type StringSet []string

// NewStringSet trims, drops empties and de-duplicates values.
func NewStringSet(values ...string) StringSet {
	seen := make(map[string]struct{}, len(values))
	out := StringSet{}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Value implements driver.Valuer.
func (s StringSet) Value() (driver.Value, error) {
	if s == nil {
		s = StringSet{}
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, fmt.Errorf("marshal string set: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *StringSet) Scan(src any) error {
	*s = StringSet{}
	raw, err := jsonBytes(src)
	if err != nil || len(raw) == 0 {
		return err
	}
	return json.Unmarshal(raw, (*[]string)(s))
}

// Links maps a link kind (website, docs, github, ...) to a URL.
type Links map[string]string

// Value implements driver.Valuer.
func (l Links) Value() (driver.Value, error) {
	if l == nil {
		l = Links{}
	}
	b, err := json.Marshal(map[string]string(l))
	if err != nil {
		return nil, fmt.Errorf("marshal links: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *Links) Scan(src any) error {
	*l = Links{}
	raw, err := jsonBytes(src)
	if err != nil || len(raw) == 0 {
		return err
	}
	return json.Unmarshal(raw, (*map[string]string)(l))
}

func jsonBytes(src any) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, fmt.Errorf("unsupported JSON column type %T", src)
}

// WalletAuth says whether a listing authenticates with a wallet.
type WalletAuth string

const (
	WalletAuthYes     WalletAuth = "yes"
	WalletAuthPlanned WalletAuth = "planned"
	WalletAuthNo      WalletAuth = "no"
)

// ThinkFit describes how a listing maps onto the soul/mind/body model shown
// on its public page. Every section is optional.
type ThinkFit struct {
	Soul *ThinkFitSoul `json:"soul,omitempty"`
	Mind *ThinkFitMind `json:"mind,omitempty"`
	Body *ThinkFitBody `json:"body,omitempty"`
}

type ThinkFitSoul struct {
	HasWalletAuth  WalletAuth `json:"has_wallet_auth,omitempty"`
	IdentityAnchor string     `json:"identity_anchor,omitempty"`
}

type ThinkFitMind struct {
	MindRuntime string `json:"mind_runtime,omitempty"`
	Tooling     string `json:"tooling,omitempty"`
}

type ThinkFitBody struct {
	InterfaceType string   `json:"interface_type,omitempty"`
	Surfaces      []string `json:"surfaces,omitempty"`
}

// normalize trims every value, drops empty sections and validates the
// wallet auth enum. It returns nil when nothing is left.
func (f *ThinkFit) normalize() (*ThinkFit, error) {
	if f == nil {
		return nil, nil
	}
	out := &ThinkFit{}
	if f.Soul != nil {
		soul := ThinkFitSoul{
			HasWalletAuth:  WalletAuth(strings.TrimSpace(string(f.Soul.HasWalletAuth))),
			IdentityAnchor: strings.TrimSpace(f.Soul.IdentityAnchor),
		}
		switch soul.HasWalletAuth {
		case "", WalletAuthYes, WalletAuthPlanned, WalletAuthNo:
		default:
			return nil, &ValidationError{Field: "think_fit.soul.has_wallet_auth", Message: "must be one of yes, planned, no"}
		}
		if soul != (ThinkFitSoul{}) {
			out.Soul = &soul
		}
	}
	if f.Mind != nil {
		mind := ThinkFitMind{
			MindRuntime: strings.TrimSpace(f.Mind.MindRuntime),
			Tooling:     strings.TrimSpace(f.Mind.Tooling),
		}
		if mind != (ThinkFitMind{}) {
			out.Mind = &mind
		}
	}
	if f.Body != nil {
		body := ThinkFitBody{InterfaceType: strings.TrimSpace(f.Body.InterfaceType)}
		for _, surface := range f.Body.Surfaces {
			if surface = strings.TrimSpace(surface); surface != "" {
				body.Surfaces = append(body.Surfaces, surface)
			}
		}
		if body.InterfaceType != "" || len(body.Surfaces) > 0 {
			out.Body = &body
		}
	}
	if out.Soul == nil && out.Mind == nil && out.Body == nil {
		return nil, nil
	}
	return out, nil
}

// Value implements driver.Valuer. A nil *ThinkFit is stored as NULL.
func (f ThinkFit) Value() (driver.Value, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal think fit: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (f *ThinkFit) Scan(src any) error {
	*f = ThinkFit{}
	raw, err := jsonBytes(src)
	if err != nil || len(raw) == 0 {
		return err
	}
	return json.Unmarshal(raw, f)
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL-safe slug from a display name.
func Slugify(name string) string {
	s := nonSlugChars.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(s, "-")
}

// Submission is the input for creating a pending listing.
type Submission struct {
	Name             string            `json:"name"`
	Type             Type              `json:"type"`
	ShortDescription string            `json:"short_description"`
	LongDescription  string            `json:"long_description"`
	Tags             []string          `json:"tags"`
	Categories       []string          `json:"categories"`
	Links            map[string]string `json:"links"`
	IconURL          string            `json:"icon_url"`
	ThumbnailURL     string            `json:"thumbnail_url"`
	Status           ProductStatus     `json:"status"`
	SubmitterWallet  string            `json:"submitter_wallet"`
	ThinkFit         *ThinkFit         `json:"think_fit"`
	Builder          BuilderRef        `json:"builder"`
}

// BuilderRef points at an existing builder by id or slug, or describes a new one.
type BuilderRef struct {
	ID      string `json:"id"`
	Slug    string `json:"slug"`
	Name    string `json:"name"`
	Bio     string `json:"bio"`
	Website string `json:"website"`
	Twitter string `json:"twitter"`
	GitHub  string `json:"github"`
}

// Existing reports whether the ref names an already stored builder.
func (r BuilderRef) Existing() bool {
	return r.ID != "" || (r.Slug != "" && r.Name == "")
}

// Validate checks the submission and normalizes defaults in place.
func (s *Submission) Validate() error {
	s.Name = strings.TrimSpace(s.Name)
	s.ShortDescription = strings.TrimSpace(s.ShortDescription)
	s.SubmitterWallet = strings.TrimSpace(s.SubmitterWallet)

	if s.Name == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if Slugify(s.Name) == "" {
		return &ValidationError{Field: "name", Message: "must contain letters or digits"}
	}
	if !s.Type.Valid() {
		return &ValidationError{Field: "type", Message: "must be one of agent, tool, app"}
	}
	if s.ShortDescription == "" {
		return &ValidationError{Field: "short_description", Message: "is required"}
	}
	if s.Status == "" {
		s.Status = ProductConcept
	}
	if !s.Status.Valid() {
		return &ValidationError{Field: "status", Message: "must be one of live, beta, concept"}
	}
	if s.SubmitterWallet == "" {
		return &ValidationError{Field: "submitter_wallet", Message: "is required"}
	}
	for kind, raw := range s.Links {
		if !validURL(raw) {
			return &ValidationError{Field: "links." + kind, Message: "must be an absolute http(s) URL"}
		}
	}
	for field, raw := range map[string]string{"icon_url": s.IconURL, "thumbnail_url": s.ThumbnailURL} {
		if raw != "" && !validURL(raw) {
			return &ValidationError{Field: field, Message: "must be an absolute http(s) URL"}
		}
	}
	fit, err := s.ThinkFit.normalize()
	if err != nil {
		return err
	}
	s.ThinkFit = fit
	if !s.Builder.Existing() {
		s.Builder.Name = strings.TrimSpace(s.Builder.Name)
		if s.Builder.Name == "" || Slugify(s.Builder.Name) == "" {
			return &ValidationError{Field: "builder", Message: "an existing builder id/slug or a builder name is required"}
		}
		if s.Builder.Website != "" && !validURL(s.Builder.Website) {
			return &ValidationError{Field: "builder.website", Message: "must be an absolute http(s) URL"}
		}
	}
	return nil
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
