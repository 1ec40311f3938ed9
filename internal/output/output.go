// Package output writes run snapshots as JSON and CSV files and renders the run summary.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"

	"github.com/blockedby/channel-harvester/internal/config"
	"github.com/blockedby/channel-harvester/internal/models"
)

// FilePrefix starts every generated result file name.
const FilePrefix = "scrape_results_"

// csvHeader follows the field order of models.Message.
var csvHeader = []string{
	"id", "date", "text", "sender_id", "sender_name", "message_type", "has_media",
	"media_url", "media_error", "is_prompt", "views", "forwards", "channel_username",
}

// WriteJSON writes the snapshot as indented JSON. Non-ASCII text is kept as is.
func WriteJSON(w io.Writer, snap *models.RunSnapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// WriteCSV writes one row per message. The header is written even for an empty run.
func WriteCSV(w io.Writer, snap *models.RunSnapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i := range snap.Messages {
		if err := cw.Write(csvRow(&snap.Messages[i])); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(m *models.Message) []string {
	return []string{
		strconv.Itoa(m.ID),
		m.Date.UTC().Format(time.RFC3339),
		m.Text,
		strconv.FormatInt(m.SenderID, 10),
		optString(m.SenderName),
		string(m.MessageType),
		strconv.FormatBool(m.HasMedia),
		optString(m.MediaURL),
		optString(m.MediaError),
		strconv.FormatBool(m.IsPrompt),
		optInt(m.Views),
		optInt(m.Forwards),
		m.ChannelUsername,
	}
}

func optString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optInt(i *int) string {
	if i == nil {
		return ""
	}
	return strconv.Itoa(*i)
}

// FileName returns the default base name for a snapshot taken at t.
func FileName(t time.Time) string {
	return FilePrefix + t.Local().Format("20060102_150405")
}

// SaveFiles writes the snapshot under dir in the requested format and returns
// the written paths. name may be empty, carry an extension or be a base name.
func SaveFiles(dir, name, format string, snap *models.RunSnapshot) ([]string, error) {
	if name == "" {
		name = FileName(snap.ScrapedAt)
	}
	name = strings.TrimSuffix(strings.TrimSuffix(name, ".json"), ".csv")

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var paths []string
	if format == config.FormatJSON || format == config.FormatBoth {
		path := filepath.Join(dir, name+".json")
		if err := writeFile(path, func(w io.Writer) error { return WriteJSON(w, snap) }); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	if format == config.FormatCSV || format == config.FormatBoth {
		path := filepath.Join(dir, name+".csv")
		if err := writeFile(path, func(w io.Writer) error { return WriteCSV(w, snap) }); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidFormat, format)
	}
	return paths, nil
}

// writeFile writes through a temp file so readers never see a partial result.
func writeFile(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// Summary renders the run totals and the per-channel outcome.
func Summary(snap *models.RunSnapshot) string {
	var b strings.Builder
	rule := strings.Repeat("=", 50)

	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "RUN SUMMARY", snap.RunID)
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Total messages:  %s\n", humanize.Comma(int64(snap.TotalMessages)))
	fmt.Fprintf(&b, "Total images:    %s\n", humanize.Comma(int64(snap.TotalImages)))
	fmt.Fprintf(&b, "Total videos:    %s\n", humanize.Comma(int64(snap.TotalVideos)))
	fmt.Fprintf(&b, "Total audio:     %s\n", humanize.Comma(int64(snap.TotalAudio)))
	fmt.Fprintf(&b, "Total documents: %s\n", humanize.Comma(int64(snap.TotalDocuments)))
	fmt.Fprintf(&b, "Total prompts:   %s\n", humanize.Comma(int64(snap.TotalPrompts)))
	if snap.MediaDownloaded > 0 || snap.MediaFailed > 0 {
		fmt.Fprintf(&b, "Media:           %d downloaded (%s), %d failed\n",
			snap.MediaDownloaded, humanize.Bytes(uint64(snap.MediaBytes)), snap.MediaFailed)
	}

	if len(snap.ChannelResults) > 0 {
		fmt.Fprintln(&b, rule)
		for _, r := range snap.ChannelResults {
			line := fmt.Sprintf("%-24s %-8s %s", r.Channel, r.Status, humanize.Comma(int64(r.Collected)))
			if r.Error != "" {
				line += "  " + r.Error
			}
			fmt.Fprintln(&b, line)
		}
	}
	if n := len(snap.Warnings); n > 0 {
		fmt.Fprintf(&b, "%s\n", english.Plural(n, "warning", "warnings"))
	}
	return b.String()
}
