// Package explorer embeds the Data Explorer: it maps dataset names to explorer origins,
// builds the frame URL and routes the messages the embedded explorer posts back.
package explorer

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ImportDataPath is the route import-data messages navigate to.
const ImportDataPath = "/import-data"

// ErrUnknownDataset is returned for a dataset with no explorer.
var ErrUnknownDataset = errors.New("explorer: unknown dataset")

// DefaultOrigins is the built-in dataset catalog. Keys are the dataset names the explorer
// itself reports.
var DefaultOrigins = map[string]string{
	"1000 Genomes":              "https://test-data-explorer.appspot.com",
	"AMP PD - 2019_v1beta_0220": "https://amp-pd-data-explorer.appspot.com",
	"Baseline Health Study":     "https://baseline-baseline-explorer.appspot.com",
	"Nurses' Health Study":      "https://nhs-explorer.appspot.com",
	"UK Biobank":                "https://biobank-explorer.appspot.com",
}

// Catalog resolves dataset names to explorer origins.
type Catalog struct {
	origins map[string]string
}

// NewCatalog copies DefaultOrigins and layers extra on top. Trailing slashes are trimmed.
func NewCatalog(extra map[string]string) *Catalog {
	origins := make(map[string]string, len(DefaultOrigins)+len(extra))
	for name, origin := range DefaultOrigins {
		origins[name] = origin
	}
	for name, origin := range extra {
		origins[name] = strings.TrimRight(origin, "/")
	}
	return &Catalog{origins: origins}
}

// Origin returns the explorer origin of dataset.
func (c *Catalog) Origin(dataset string) (string, error) {
	origin, ok := c.origins[dataset]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDataset, dataset)
	}
	return origin, nil
}

// Datasets lists the catalog's dataset names in order.
func (c *Catalog) Datasets() []string {
	names := make([]string, 0, len(c.origins))
	for name := range c.origins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FrameURL is the iframe source for dataset: the explorer origin in embed mode carrying the
// page's current query string unchanged. rawQuery may start with "?".
func (c *Catalog) FrameURL(dataset, rawQuery string) (string, error) {
	origin, err := c.Origin(dataset)
	if err != nil {
		return "", err
	}
	return origin + "/?embed&" + strings.TrimPrefix(rawQuery, "?"), nil
}

// Message is what the embedded explorer posts to the page.
type Message struct {
	ImportDataQueryStr string `json:"importDataQueryStr,omitempty"`
	DeQueryStr         string `json:"deQueryStr,omitempty"`
}

// ActionKind says how the page must react to a Message.
type ActionKind string

// Action kinds. Replace rewrites the address bar without triggering navigation.
const (
	ActionIgnore   ActionKind = "ignore"
	ActionNavigate ActionKind = "navigate"
	ActionReplace  ActionKind = "replace"
)

// Action is the page update for a Message.
type Action struct {
	Kind  ActionKind `json:"kind"`
	Path  string     `json:"path,omitempty"`
	Query string     `json:"query,omitempty"`
	// URL is the address-bar value for ActionReplace.
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

// HandleMessage routes msg posted by the explorer for dataset while the page is at
// currentPath. An import query wins over an explorer-state query; a message with neither
// is ignored.
func HandleMessage(dataset, currentPath string, msg Message) Action {
	return handleMessage(dataset, currentPath, msg, "")
}

// HandleLibraryMessage routes msg on the library page, where the explorer origin lives in the
// page query. The replaced address keeps the origin so the link can be shared.
func HandleLibraryMessage(dataset, currentPath, origin string, msg Message) Action {
	return handleMessage(dataset, currentPath, msg, "&origin="+origin)
}

func handleMessage(dataset, currentPath string, msg Message, suffix string) Action {
	switch {
	case msg.ImportDataQueryStr != "":
		return Action{Kind: ActionNavigate, Path: ImportDataPath, Query: "?" + msg.ImportDataQueryStr}
	case msg.DeQueryStr != "":
		return Action{
			Kind:  ActionReplace,
			URL:   "#" + strings.TrimPrefix(currentPath, "/") + "?" + msg.DeQueryStr + suffix,
			Title: "Data Explorer - " + dataset,
		}
	default:
		return Action{Kind: ActionIgnore}
	}
}

// ErrMissingOrigin is returned when a library explorer link has no usable origin parameter.
var ErrMissingOrigin = errors.New("explorer: origin parameter must be an http(s) URL")

// LibraryFrameURL is the iframe source for a library explorer link, whose query names the
// explorer origin. The origin is returned so messages from the frame can keep it.
func LibraryFrameURL(rawQuery string) (src, origin string, err error) {
	origin, rest, err := SplitOriginParam(rawQuery)
	if err != nil {
		return "", "", err
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", "", ErrMissingOrigin
	}
	return origin + "/?embed&" + rest, origin, nil
}

// SplitOriginParam supports links that carry the explorer origin in the query itself: it
// removes the origin parameter and returns it with the remaining query.
func SplitOriginParam(rawQuery string) (origin, rest string, err error) {
	values, err := url.ParseQuery(strings.TrimPrefix(rawQuery, "?"))
	if err != nil {
		return "", "", fmt.Errorf("parse explorer query: %w", err)
	}
	origin = values.Get("origin")
	values.Del("origin")
	return origin, values.Encode(), nil
}
