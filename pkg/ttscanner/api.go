package ttscanner

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"scanwatch/internal/favorites"
	"scanwatch/internal/scan"
)

// Algo is a scanning algorithm.
type Algo struct {
	ID   int64  `json:"id"`
	Name string `json:"algo_name"`
}

// Group is an optional grouping of symbols within an algo.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"group_name"`
}

// Interval is a bar interval available for an algo/group.
type Interval struct {
	ID   int64  `json:"id"`
	Name string `json:"interval_name"`
}

// NoGroup is the group label the backend uses for ungrouped associations.
const NoGroup = "No Group"

// Selection identifies a file association by algo, group and interval.
// GroupID is nil for ungrouped associations.
type Selection struct {
	Algo     Algo
	Group    *Group
	Interval Interval
}

// DisplayName is the file association name shown to users, e.g.
// "TTScanner Tech 1D Swing Trades". The group is omitted when absent.
func (s Selection) DisplayName() string {
	if s.Group == nil || s.Group.Name == "" || s.Group.Name == NoGroup {
		return fmt.Sprintf("%s %s Swing Trades", s.Algo.Name, s.Interval.Name)
	}
	return fmt.Sprintf("%s %s %s Swing Trades", s.Algo.Name, s.Group.Name, s.Interval.Name)
}

// Algos lists all algos.
func (c *Client) Algos(ctx context.Context) ([]Algo, error) {
	var out []Algo
	if err := c.getJSON(ctx, "/ttscanner/algos/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Groups lists the named groups of an algo.
func (c *Client) Groups(ctx context.Context, algoID int64) ([]Group, error) {
	var all []Group
	if err := c.getJSON(ctx, "/ttscanner/algos/"+idString(algoID)+"/groups/", nil, &all); err != nil {
		return nil, err
	}
	out := all[:0]
	for _, g := range all {
		if g.Name != "" {
			out = append(out, g)
		}
	}
	return out, nil
}

// Intervals lists intervals for an algo and group (nil for ungrouped).
func (c *Client) Intervals(ctx context.Context, algoID int64, group *Group) ([]Interval, error) {
	gid := "none"
	if group != nil {
		gid = idString(group.ID)
	}
	var out []Interval
	path := "/ttscanner/algos/" + idString(algoID) + "/groups/" + gid + "/intervals"
	if err := c.getJSON(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadRowSet resolves sel to its file association and returns the current
// rows and data version.
func (c *Client) LoadRowSet(ctx context.Context, sel Selection) (scan.RowSet, error) {
	q := url.Values{}
	q.Set("algo", idString(sel.Algo.ID))
	if sel.Group != nil {
		q.Set("group", idString(sel.Group.ID))
	} else {
		q.Set("group", "")
	}
	q.Set("interval", idString(sel.Interval.ID))

	body, err := c.get(ctx, "/ttscanner/file-association/lookup/", q)
	if err != nil {
		return scan.RowSet{}, err
	}
	if !gjson.ValidBytes(body) {
		return scan.RowSet{}, fmt.Errorf("decoding lookup: invalid JSON")
	}
	root := gjson.ParseBytes(body)
	id := root.Get("file_association_id")
	if !id.Exists() || id.String() == "" {
		return scan.RowSet{}, fmt.Errorf("decoding lookup: missing file_association_id")
	}
	rows, err := scan.RowsFromResult(root.Get("rows"))
	if err != nil {
		return scan.RowSet{}, fmt.Errorf("decoding lookup: %w", err)
	}
	return scan.RowSet{
		Source:  scan.SourceID(id.String()),
		Version: root.Get("data_version").Int(),
		Rows:    rows,
	}, nil
}

// StreamURL is the event-stream endpoint for a source.
func (c *Client) StreamURL(source scan.SourceID) string {
	return c.baseURL + "/ttscanner/sse/" + url.PathEscape(string(source)) + "/"
}

// CSVHeaders lists the column headers of a source's file.
func (c *Client) CSVHeaders(ctx context.Context, source scan.SourceID) ([]string, error) {
	var out []string
	if err := c.getJSON(ctx, "/ttscanner/csv-headers/"+url.PathEscape(string(source))+"/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SymbolIntervals lists the symbol/interval values present in a source.
func (c *Client) SymbolIntervals(ctx context.Context, source scan.SourceID) ([]string, error) {
	var out []string
	if err := c.getJSON(ctx, "/ttscanner/sym-int/"+url.PathEscape(string(source))+"/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FavoriteRow is one favorited row as returned by the favorites listing.
type FavoriteRow struct {
	RowHash    string
	FavoriteID int64
	Row        scan.Row
}

// FavoriteBatch groups a user's favorite rows by source.
type FavoriteBatch struct {
	Source  scan.SourceID
	Name    string
	Headers []string
	Rows    []FavoriteRow
}

// FavoriteBatches lists the configured user's favorites grouped by source.
func (c *Client) FavoriteBatches(ctx context.Context) ([]FavoriteBatch, error) {
	if c.userID == "" {
		return nil, fmt.Errorf("ttscanner: no user id configured")
	}
	body, err := c.get(ctx, "/ttscanner/fav-row-list/"+url.PathEscape(c.userID)+"/", nil)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("decoding favorites: invalid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, fmt.Errorf("decoding favorites: expected array, got %s", root.Type)
	}

	var out []FavoriteBatch
	for _, g := range root.Array() {
		b := FavoriteBatch{
			Source: scan.SourceID(g.Get("file_association_id").String()),
			Name:   g.Get("file_association_name").String(),
		}
		for _, h := range g.Get("headers").Array() {
			b.Headers = append(b.Headers, h.String())
		}
		rows, err := scan.RowsFromResult(g.Get("rows"))
		if err != nil {
			return nil, fmt.Errorf("decoding favorites for %s: %w", b.Source, err)
		}
		for _, r := range rows {
			fid, _ := r.Get("favorite_id").Float()
			b.Rows = append(b.Rows, FavoriteRow{
				RowHash:    r.Get("row_hash").Text(),
				FavoriteID: int64(fid),
				Row:        r,
			})
		}
		out = append(out, b)
	}
	return out, nil
}

// FavoriteRecords flattens FavoriteBatches into hydration records.
func (c *Client) FavoriteRecords(ctx context.Context) ([]favorites.Record, error) {
	batches, err := c.FavoriteBatches(ctx)
	if err != nil {
		return nil, err
	}
	var out []favorites.Record
	for _, b := range batches {
		for _, r := range b.Rows {
			out = append(out, favorites.Record{RowHash: r.RowHash, FavoriteID: r.FavoriteID})
		}
	}
	return out, nil
}

// CreateFavorite favorites symInt within source and returns the new favorite
// id. Mutations are not retried.
func (c *Client) CreateFavorite(ctx context.Context, source scan.SourceID, symInt string) (int64, error) {
	if c.userID == "" {
		return 0, fmt.Errorf("ttscanner: no user id configured")
	}
	body := map[string]string{"external_user_id": c.userID, "sym_int": symInt}
	resp, err := c.do(ctx, http.MethodPost, "/ttscanner/fav-row/create/"+url.PathEscape(string(source))+"/", nil, body)
	if err != nil {
		return 0, err
	}
	root := gjson.ParseBytes(resp)
	id := root.Get("id")
	if !id.Exists() || id.Type == gjson.Null {
		id = root.Get("favorite_id")
	}
	if id.Int() <= 0 {
		return 0, fmt.Errorf("ttscanner: create favorite: response has no id")
	}
	return id.Int(), nil
}

// DeleteFavorite removes a favorite by id.
func (c *Client) DeleteFavorite(ctx context.Context, id int64) error {
	_, err := c.do(ctx, http.MethodDelete, "/ttscanner/fav-row/delete/"+idString(id)+"/", nil, nil)
	return err
}

var _ favorites.Service = (*Client)(nil)
