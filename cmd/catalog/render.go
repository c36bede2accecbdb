package catalog

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/catalog"
)

const dateLayout = "2006-01-02"

// TableRenderer writes catalog rows as tables.
type TableRenderer struct {
	out io.Writer
}

// NewTableRenderer creates a TableRenderer writing to out.
func NewTableRenderer(out io.Writer) *TableRenderer {
	return &TableRenderer{out: out}
}

func (r *TableRenderer) newTable(header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	return t
}

// Problems renders the problem view.
func (r *TableRenderer) Problems(rows []catalog.FeedInfo) {
	t := r.newTable(table.Row{"Feed", "Title", "Group", "Active", "Built", "Public", "Requested", "Access", "View"})
	for _, f := range rows {
		t.AppendRow(table.Row{
			f.FeedName, f.Title(), f.Group(),
			flag(f.IsActive), flag(f.Feedmaker), flag(f.PublicHTML), flag(f.HTTPRequest),
			date(f.AccessDate), date(f.ViewDate),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", "Total", len(rows)})
	t.Render()
}

// Summaries renders search results and per-group listings.
func (r *TableRenderer) Summaries(rows []catalog.FeedSummary) {
	t := r.newTable(table.Row{"Feed", "Title", "Group"})
	for _, f := range rows {
		t.AppendRow(table.Row{f.FeedName, f.FeedTitle, f.GroupName})
	}
	t.Render()
}

// Groups renders group counts.
func (r *TableRenderer) Groups(rows []catalog.GroupSummary) {
	t := r.newTable(table.Row{"Group", "Feeds"})
	for _, g := range rows {
		t.AppendRow(table.Row{g.Name, g.NumFeeds})
	}
	t.Render()
}

// Info renders every column of one feed as a two-column table.
func (r *TableRenderer) Info(f *catalog.FeedInfo) {
	t := r.newTable(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"feed_name", f.FeedName},
		{"feed_title", str(f.FeedTitle)},
		{"group_name", str(f.GroupName)},
		{"is_active", flag(f.IsActive)},
		{"config_modify_date", date(f.ConfigModifyDate)},
		{"url_list_count", num(f.URLListCount)},
		{"collect_date", date(f.CollectDate)},
		{"is_completed", flag(f.IsCompleted)},
		{"current_index", num(f.CurrentIndex)},
		{"total_item_count", num(f.TotalItemCount)},
		{"unit_size_per_day", float(f.UnitSizePerDay)},
		{"progress_ratio", float(f.ProgressRatio)},
		{"due_date", date(f.DueDate)},
		{"feedmaker", flag(f.Feedmaker)},
		{"rss_update_date", date(f.RSSUpdateDate)},
		{"public_html", flag(f.PublicHTML)},
		{"public_feed_file_path", str(f.PublicFeedFilePath)},
		{"num_items", num(f.NumItems)},
		{"upload_date", date(f.UploadDate)},
		{"http_request", flag(f.HTTPRequest)},
		{"access_date", date(f.AccessDate)},
		{"view_date", date(f.ViewDate)},
	})
	t.Render()
}

// Progress renders archived feeds and their due dates.
func (r *TableRenderer) Progress(rows []catalog.FeedInfo) {
	t := r.newTable(table.Row{"Feed", "Title", "Index", "Total", "Unit/day", "Progress %", "Due"})
	for _, f := range rows {
		t.AppendRow(table.Row{
			f.FeedName, f.Title(), num(f.CurrentIndex), num(f.TotalItemCount),
			float(f.UnitSizePerDay), float(f.ProgressRatio), date(f.DueDate),
		})
	}
	t.Render()
}

// PublicFeeds renders the published artifacts.
func (r *TableRenderer) PublicFeeds(rows []catalog.FeedInfo) {
	t := r.newTable(table.Row{"Feed", "Title", "Path", "Items", "Uploaded"})
	for _, f := range rows {
		t.AppendRow(table.Row{f.FeedName, f.Title(), str(f.PublicFeedFilePath), num(f.NumItems), date(f.UploadDate)})
	}
	t.Render()
}

// ListURLCounts renders feeds collected from several list pages.
func (r *TableRenderer) ListURLCounts(rows []catalog.ListURLCount) {
	t := r.newTable(table.Row{"Feed", "Title", "Group", "List URLs"})
	for _, c := range rows {
		t.AppendRow(table.Row{c.FeedName, c.FeedTitle, c.GroupName, c.Count})
	}
	t.Render()
}

// ElementNameCounts renders how many feeds use each conf.json key.
func (r *TableRenderer) ElementNameCounts(rows []catalog.ElementNameCount) {
	t := r.newTable(table.Row{"Element", "Feeds"})
	for _, c := range rows {
		t.AppendRow(table.Row{c.ElementName, c.Count})
	}
	t.Render()
}

// HTMLFiles renders broken snippet rows.
func (r *TableRenderer) HTMLFiles(rows []catalog.HTMLFileInfo) {
	t := r.newTable(table.Row{"File", "Feed dir", "Size", "Pixels>1", "No pixel", "Image missing", "Updated"})
	for _, h := range rows {
		t.AppendRow(table.Row{
			h.FileName, h.FeedDirPath, h.Size,
			h.CountWithManyImageTag, h.CountWithoutImageTag, h.CountWithImageNotFound,
			date(h.UpdateDate),
		})
	}
	t.Render()
}

func flag(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}

func date(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func num(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func float(f *float64) string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%g", *f)
}
