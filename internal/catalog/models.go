package catalog

import "time"

// feedInfoColumns lists columns for SELECT queries on feed_info.
const feedInfoColumns = `feed_name, feed_title, group_name, is_active, config,
	config_modify_date, url_list_count, collect_date, is_completed, current_index,
	total_item_count, unit_size_per_day, progress_ratio, due_date, feedmaker,
	rss_update_date, public_html, public_feed_file_path, file_size, num_items,
	upload_date, http_request, access_date, view_date`

// FeedInfo is one catalog row. Every column but the key may be NULL.
type FeedInfo struct {
	FeedName         string     `db:"feed_name"`
	FeedTitle        *string    `db:"feed_title"`
	GroupName        *string    `db:"group_name"`
	IsActive         *bool      `db:"is_active"`
	Config           *string    `db:"config"`
	ConfigModifyDate *time.Time `db:"config_modify_date"`
	URLListCount     *int       `db:"url_list_count"`
	CollectDate      *time.Time `db:"collect_date"`

	IsCompleted    *bool      `db:"is_completed"`
	CurrentIndex   *int       `db:"current_index"`
	TotalItemCount *int       `db:"total_item_count"`
	UnitSizePerDay *float64   `db:"unit_size_per_day"`
	ProgressRatio  *float64   `db:"progress_ratio"`
	DueDate        *time.Time `db:"due_date"`

	Feedmaker     *bool      `db:"feedmaker"`
	RSSUpdateDate *time.Time `db:"rss_update_date"`

	PublicHTML         *bool      `db:"public_html"`
	PublicFeedFilePath *string    `db:"public_feed_file_path"`
	FileSize           *int64     `db:"file_size"`
	NumItems           *int       `db:"num_items"`
	UploadDate         *time.Time `db:"upload_date"`

	HTTPRequest *bool      `db:"http_request"`
	AccessDate  *time.Time `db:"access_date"`
	ViewDate    *time.Time `db:"view_date"`
}

// Title returns the display title, falling back to the feed name.
func (f FeedInfo) Title() string {
	if f.FeedTitle != nil && *f.FeedTitle != "" {
		return *f.FeedTitle
	}
	return f.FeedName
}

// Group returns the group name or "".
func (f FeedInfo) Group() string {
	if f.GroupName == nil {
		return ""
	}
	return *f.GroupName
}

// FeedSummary is a row of the search and per-group listings.
type FeedSummary struct {
	FeedName  string `db:"feed_name"`
	FeedTitle string `db:"feed_title"`
	GroupName string `db:"group_name"`
}

// GroupSummary counts the feeds of one group.
type GroupSummary struct {
	Name     string `db:"group_name"`
	NumFeeds int    `db:"num_feeds"`
}

// ListURLCount is a feed collected from more than one list page.
type ListURLCount struct {
	FeedName  string `db:"feed_name"`
	FeedTitle string `db:"feed_title"`
	GroupName string `db:"group_name"`
	Count     int    `db:"url_list_count"`
}

// ElementNameCount is how many feeds configure one conf.json key.
type ElementNameCount struct {
	ElementName string `db:"element_name"`
	Count       int    `db:"count"`
}

// HTMLFileInfo describes a cached snippet worth an operator's attention.
type HTMLFileInfo struct {
	FilePath               string     `db:"file_path"`
	FileName               string     `db:"file_name"`
	FeedDirPath            string     `db:"feed_dir_path"`
	Size                   int64      `db:"size"`
	CountWithManyImageTag  int        `db:"count_with_many_image_tag"`
	CountWithoutImageTag   int        `db:"count_without_image_tag"`
	CountWithImageNotFound int        `db:"count_with_image_not_found"`
	UpdateDate             *time.Time `db:"update_date"`
}

// htmlFileInfoColumns lists columns for SELECT queries on html_file_info.
const htmlFileInfoColumns = `file_path, file_name, feed_dir_path, size,
	count_with_many_image_tag, count_without_image_tag, count_with_image_not_found, update_date`
