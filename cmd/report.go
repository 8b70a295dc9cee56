package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tidwall/sjson"

	"github.com/luma/antenna/htsp"
)

// Report is a point-in-time snapshot of everything the server told us,
// ready to render as text or JSON.
type Report struct {
	ServerName      string
	ServerVersion   string
	ProtocolVersion uint32

	DiskSpace *htsp.DiskSpace
	Time      *htsp.SystemTime

	Tags     []htsp.Tag
	Channels []htsp.Channel

	Recorded  []htsp.DvrEntry
	Scheduled []htsp.DvrEntry
	Failed    []htsp.DvrEntry
	Autorecs  []htsp.AutorecRule
}

func (r *Report) JSON() (string, error) {
	out := "{}"
	var err error

	set := func(path string, value interface{}) {
		if err != nil {
			return
		}
		out, err = sjson.Set(out, path, value)
	}

	set("server.name", r.ServerName)
	set("server.version", r.ServerVersion)
	set("server.htspVersion", r.ProtocolVersion)

	if r.DiskSpace != nil {
		set("server.disk.freeBytes", r.DiskSpace.Free)
		set("server.disk.totalBytes", r.DiskSpace.Total)
		set("server.disk.usedBytes", r.DiskSpace.Used())
	}
	if r.Time != nil {
		set("server.time", r.Time.Time.UTC().Format(time.RFC3339))
		set("server.timezoneOffsetMinutes", r.Time.TimezoneMinutesWest)
	}

	for _, tag := range r.Tags {
		set("tags.-1", map[string]interface{}{
			"id":       tag.ID,
			"name":     tag.Name,
			"channels": tag.Members,
		})
	}

	for _, channel := range r.Channels {
		entry := map[string]interface{}{
			"id":     channel.ID,
			"number": channel.Number,
			"name":   channel.Name,
			"tags":   channel.TagIDs,
		}

		var services []map[string]interface{}
		for _, service := range channel.Services {
			services = append(services, map[string]interface{}{
				"name": service.Name,
				"type": service.Type,
			})
		}
		if services != nil {
			entry["services"] = services
		}

		set("channels.-1", entry)
	}

	for path, entries := range map[string][]htsp.DvrEntry{
		"dvr.recorded.-1":  r.Recorded,
		"dvr.scheduled.-1": r.Scheduled,
		"dvr.failed.-1":    r.Failed,
	} {
		for _, entry := range entries {
			set(path, dvrJSON(entry))
		}
	}

	for _, rule := range r.Autorecs {
		set("dvr.autorecs.-1", map[string]interface{}{
			"id":      rule.ID,
			"enabled": rule.Enabled,
			"title":   rule.Title,
		})
	}

	return out, err
}

func dvrJSON(entry htsp.DvrEntry) map[string]interface{} {
	out := map[string]interface{}{
		"id":      entry.ID,
		"channel": entry.ChannelID,
		"title":   entry.Title,
		"start":   entry.Start.UTC().Format(time.RFC3339),
		"stop":    entry.Stop.UTC().Format(time.RFC3339),
		"state":   string(entry.State),
	}
	if entry.Error != "" {
		out["error"] = entry.Error
	}
	return out
}

func (r *Report) Render(w io.Writer) {
	fmt.Fprintf(w, "%s %s (HTSP v%d)\n", r.ServerName, r.ServerVersion, r.ProtocolVersion)

	if r.Time != nil {
		fmt.Fprintf(w, "Server time: %s (UTC%+dmin)\n",
			r.Time.Time.UTC().Format(time.RFC3339), -r.Time.TimezoneMinutesWest)
	}
	if r.DiskSpace != nil {
		fmt.Fprintf(w, "Disk: %s free of %s\n",
			byteSize(r.DiskSpace.Free), byteSize(r.DiskSpace.Total))
	}

	tagNames := make(map[uint32]string, len(r.Tags))
	for _, tag := range r.Tags {
		tagNames[tag.ID] = tag.Name
	}

	fmt.Fprintf(w, "\nChannels (%d):\n", len(r.Channels))
	for _, channel := range r.Channels {
		var tags []string
		for _, id := range channel.TagIDs {
			if name, ok := tagNames[id]; ok {
				tags = append(tags, name)
			}
		}

		fmt.Fprintf(w, "  %4d  %-30s %s\n", channel.Number, channel.Name, strings.Join(tags, ", "))

		for _, service := range channel.Services {
			fmt.Fprintf(w, "        - %s (%s)\n", service.Name, service.Type)
		}
	}

	renderDvr(w, "Recorded", r.Recorded)
	renderDvr(w, "Scheduled", r.Scheduled)
	renderDvr(w, "Failed", r.Failed)

	if len(r.Autorecs) > 0 {
		fmt.Fprintf(w, "\nAuto-record rules (%d):\n", len(r.Autorecs))
		for _, rule := range r.Autorecs {
			state := "off"
			if rule.Enabled {
				state = "on"
			}
			fmt.Fprintf(w, "  %-30s [%s] %s\n", rule.Title, state, rule.ID)
		}
	}
}

func renderDvr(w io.Writer, heading string, entries []htsp.DvrEntry) {
	if len(entries) == 0 {
		return
	}

	fmt.Fprintf(w, "\n%s (%d):\n", heading, len(entries))
	for _, entry := range entries {
		fmt.Fprintf(w, "  %-30s %s (%s)",
			entry.Title, entry.Start.Format("2006-01-02 15:04"), entry.Duration())
		if entry.Error != "" {
			fmt.Fprintf(w, " error: %s", entry.Error)
		}
		fmt.Fprintln(w)
	}
}

func byteSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
