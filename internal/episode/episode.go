package episode

import (
	"fmt"
	"html"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Order controls how Build sorts descriptors by episode number.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

var (
	numberPattern   = regexp.MustCompile(`^\s*?(\d+)|#(\d+)|(\d+)\s*$`)
	tagPattern      = regexp.MustCompile(`<[^<]+?>`)
	forbiddenInName = regexp.MustCompile(`[\\/*?:"<>|]`)
)

// Item is one flat record produced by a feed parser.
type Item struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	ImageURL      string `json:"image_url"`
	EnclosureURL  string `json:"enclosure_url"`
	EnclosureType string `json:"enclosure_type"`
	PubDate       string `json:"pub_date"`
	Link          string `json:"link"`
	Duration      string `json:"duration"`
	Author        string `json:"author"`
	GUID          string `json:"guid"`
}

// Descriptor describes one downloadable episode. It is immutable once built.
type Descriptor struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
	DownloadURL string `json:"download_url"`
	Filename    string `json:"filename"`
	Dir         string `json:"dir"`

	PubDate  string `json:"pub_date,omitempty"`
	Link     string `json:"link,omitempty"`
	Duration string `json:"duration,omitempty"`
	Author   string `json:"author,omitempty"`
	GUID     string `json:"guid,omitempty"`
}

// Path is the resolved file path and the identity of the episode for download state.
func (d Descriptor) Path() string {
	return filepath.Join(d.Dir, d.Filename)
}

// IsAudio reports whether the item carries a downloadable audio enclosure.
func (i Item) IsAudio() bool {
	return i.EnclosureURL != "" && strings.HasPrefix(i.EnclosureType, "audio")
}

// Build converts feed items into descriptors targeting dir.
//
// Items without an audio enclosure are dropped. Filenames are unique within
// the returned slice.
func Build(items []Item, dir string, order Order) []Descriptor {
	total := len(items)
	taken := make(map[string]struct{}, total)
	descs := make([]Descriptor, 0, total)

	for i, item := range items {
		if !item.IsAudio() {
			continue
		}

		number := ExtractNumber(item.Title)
		if number <= 0 {
			number = total - i
		}

		downloadURL := html.UnescapeString(item.EnclosureURL)

		filename := FilenameFromURL(downloadURL)
		if filename == "" {
			filename = fmt.Sprintf("episode_%d.mp3", number)
		}

		filename = uniqueName(filename, taken)
		taken[strings.ToLower(filename)] = struct{}{}

		title := item.Title
		if title == "" {
			title = "No Title"
		}

		descs = append(descs, Descriptor{
			Number:      number,
			Title:       title,
			Description: CleanDescription(item.Description),
			ImageURL:    item.ImageURL,
			DownloadURL: downloadURL,
			Filename:    filename,
			Dir:         dir,
			PubDate:     item.PubDate,
			Link:        item.Link,
			Duration:    item.Duration,
			Author:      item.Author,
			GUID:        item.GUID,
		})
	}

	Sort(descs, order)

	return descs
}

// Sort orders descriptors by episode number. Equal numbers keep feed order.
func Sort(descs []Descriptor, order Order) {
	sort.SliceStable(descs, func(i, j int) bool {
		if order == OrderDesc {
			return descs[i].Number > descs[j].Number
		}

		return descs[i].Number < descs[j].Number
	})
}

// Filter returns the descriptors whose title or description contains term,
// ignoring case. An empty term matches everything.
func Filter(descs []Descriptor, term string) []Descriptor {
	if strings.TrimSpace(term) == "" {
		return descs
	}

	var out []Descriptor

	for _, d := range descs {
		if d.Matches(term) {
			out = append(out, d)
		}
	}

	return out
}

// Matches reports whether the title or description contains term, ignoring case.
func (d Descriptor) Matches(term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}

	return strings.Contains(strings.ToLower(d.Title), term) || strings.Contains(strings.ToLower(d.Description), term)
}

// ExtractNumber finds an episode number in a title.
// A "#N" marker wins over a leading number, which wins over a trailing one.
// It returns 0 when nothing matches.
func ExtractNumber(title string) int {
	if title == "" {
		return 0
	}

	m := numberPattern.FindStringSubmatch(title)
	if m == nil {
		return 0
	}

	for _, group := range []string{m[2], m[1], m[3]} {
		if group == "" {
			continue
		}

		n, err := strconv.Atoi(group)
		if err != nil {
			return 0
		}

		return n
	}

	return 0
}

// FilenameFromURL derives a filesystem-safe file name from the last path
// segment of rawURL. It returns "" when nothing usable is left.
func FilenameFromURL(rawURL string) string {
	raw := rawURL
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}

	raw = raw[strings.LastIndex(raw, "/")+1:]

	name, err := url.PathUnescape(raw)
	if err != nil {
		name = raw
	}

	return SanitizeFilename(name)
}

// SanitizeFilename removes characters that are not allowed in file names.
// Names made only of dots would resolve to a directory and yield "".
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(forbiddenInName.ReplaceAllString(name, ""))
	if strings.Trim(name, ".") == "" {
		return ""
	}

	return name
}

// CleanDescription strips HTML tags and entities from a feed description.
func CleanDescription(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(s, "")))
}

func uniqueName(name string, taken map[string]struct{}) string {
	if _, ok := taken[strings.ToLower(name)]; !ok {
		return name
	}

	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		if _, ok := taken[strings.ToLower(candidate)]; !ok {
			return candidate
		}
	}
}
