package wiim

import (
	"fmt"
	"strings"
)

const (
	gridWidth  = 4
	gridHeight = 6

	// maxComboButtons caps combo entries on the output page so the grid
	// cannot overflow.
	maxComboButtons = 8

	presetLabelLen  = 8
	serviceLabelLen = 10
)

// GridItem is one button on a page.
type GridItem struct {
	Text    string `json:"text"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Command string `json:"command"`
}

// Page is one 4x6 grid of buttons.
type Page struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	GridWidth  int        `json:"grid_width"`
	GridHeight int        `json:"grid_height"`
	Items      []GridItem `json:"items"`
}

// Projection is the command vocabulary and page layout derived from a
// capability catalog.
type Projection struct {
	Commands []string `json:"commands"`
	Pages    []Page   `json:"pages"`
}

// baseCommands is the fixed vocabulary every device gets.
var baseCommands = []string{
	"play", "pause", "stop", "next", "previous",
	"volume_up", "volume_down", "mute_toggle", "on", "off",
	"wifi", "bluetooth", "line-in", "optical", "HDMI", "phono", "udisk",
	"display_on", "display_off", "toggle_display", "reboot_device",
}

// Project derives the command vocabulary and button pages from a catalog.
// It is a pure function: identical catalogs produce identical projections.
func Project(catalog *Catalog) Projection {
	return Projection{
		Commands: buildCommands(catalog),
		Pages:    buildPages(catalog),
	}
}

func buildCommands(catalog *Catalog) []string {
	commands := append([]string(nil), baseCommands...)

	if len(catalog.Outputs) > 0 {
		commands = append(commands, "output_get_current")
		for _, out := range catalog.Outputs {
			commands = append(commands, out.ID)
		}
		for _, src := range catalog.Sources {
			for _, out := range catalog.Outputs {
				commands = append(commands, fmt.Sprintf("combo_%s_%s", src.ID, outputFragment(out.ID)))
			}
		}
	}

	if len(catalog.EQPresets) > 0 {
		for _, preset := range catalog.EQPresets {
			commands = append(commands, "eq_"+Slug(preset))
		}
		commands = append(commands, "eq_on", "eq_off")
	}

	for _, preset := range catalog.Presets {
		commands = append(commands, fmt.Sprintf("preset_%d", preset.Number))
	}
	for _, source := range distinctPresetSources(catalog.Presets) {
		commands = append(commands, "service_"+Slug(source))
	}

	return commands
}

func buildPages(catalog *Catalog) []Page {
	pages := []Page{mainPage()}

	if len(catalog.Outputs) > 0 {
		pages = append(pages, outputPage(catalog))
	}
	if len(catalog.Presets) > 0 {
		if page, ok := servicesPage(catalog.Presets); ok {
			pages = append(pages, page)
		}
		if page, ok := presetsPage(catalog.Presets); ok {
			pages = append(pages, page)
		}
	}
	if len(catalog.EQPresets) > 0 {
		pages = append(pages, eqPage(catalog.EQPresets))
	}
	pages = append(pages, devicePage())

	return pages
}

func mainPage() Page {
	return Page{
		ID:         "main",
		Name:       "Main Controls",
		GridWidth:  gridWidth,
		GridHeight: gridHeight,
		Items: []GridItem{
			{Text: "PREV", X: 0, Y: 0, Command: "previous"},
			{Text: "PLAY", X: 1, Y: 0, Command: "play"},
			{Text: "PAUSE", X: 2, Y: 0, Command: "pause"},
			{Text: "NEXT", X: 3, Y: 0, Command: "next"},

			{Text: "VOL-", X: 0, Y: 1, Command: "volume_down"},
			{Text: "VOL+", X: 1, Y: 1, Command: "volume_up"},
			{Text: "MUTE", X: 2, Y: 1, Command: "mute_toggle"},
			{Text: "STOP", X: 3, Y: 1, Command: "stop"},

			{Text: "STANDBY", X: 0, Y: 2, Command: "off"},
			{Text: "WiFi", X: 1, Y: 2, Command: "wifi"},
			{Text: "BT", X: 2, Y: 2, Command: "bluetooth"},
			{Text: "Line", X: 3, Y: 2, Command: "line-in"},

			{Text: "Optical", X: 0, Y: 3, Command: "optical"},
			{Text: "HDMI", X: 1, Y: 3, Command: "HDMI"},
			{Text: "USB", X: 2, Y: 3, Command: "udisk"},
			{Text: "Phono", X: 3, Y: 3, Command: "phono"},
		},
	}
}

// outputPage lists the discovered outputs followed by input/output combo
// buttons, packed row-major. Combos are capped and anything past page
// capacity is dropped silently.
func outputPage(catalog *Catalog) Page {
	page := Page{
		ID:         "outputs",
		Name:       "Audio Output",
		GridWidth:  gridWidth,
		GridHeight: gridHeight,
	}

	row, col := 0, 0
	place := func(text, command string) bool {
		if row >= gridHeight {
			return false
		}
		page.Items = append(page.Items, GridItem{Text: text, X: col, Y: row, Command: command})
		col++
		if col >= gridWidth {
			col = 0
			row++
		}
		return true
	}

	for _, out := range catalog.Outputs {
		if !place(truncate(out.Name, presetLabelLen), out.ID) {
			return page
		}
	}

	combos := 0
	for _, src := range catalog.Sources {
		for _, out := range catalog.Outputs {
			if combos >= maxComboButtons {
				return page
			}
			fragment := outputFragment(out.ID)
			label := truncate(src.ID+">"+fragment, presetLabelLen)
			if !place(label, fmt.Sprintf("combo_%s_%s", src.ID, fragment)) {
				return page
			}
			combos++
		}
	}

	return page
}

// servicesPage shows one button per distinct preset source; pressing it
// activates the first preset of that source.
func servicesPage(presets []Preset) (Page, bool) {
	page := Page{
		ID:         "services",
		Name:       "Music Services",
		GridWidth:  gridWidth,
		GridHeight: gridHeight,
	}

	type group struct {
		source string
		count  int
	}
	var groups []group
	index := map[string]int{}
	for _, preset := range presets {
		source := preset.Source
		if source == "" {
			source = "Unknown"
		}
		if i, ok := index[source]; ok {
			groups[i].count++
			continue
		}
		index[source] = len(groups)
		groups = append(groups, group{source: source, count: 1})
	}

	row, col := 0, 0
	for _, g := range groups {
		if row >= gridHeight {
			break
		}
		command := "service_" + Slug(g.source)
		page.Items = append(page.Items, GridItem{
			Text: truncate(g.source, serviceLabelLen), X: col, Y: row, Command: command,
		})
		if g.count > 1 {
			page.Items = append(page.Items, GridItem{
				Text: fmt.Sprintf("(%d)", g.count), X: col, Y: row + 1, Command: command,
			})
			row += 2
		} else {
			row++
		}
		col++
		if col >= gridWidth {
			col = 0
			if row < gridHeight {
				row++
			}
		}
	}

	return page, len(page.Items) > 0
}

// presetsPage lays presets out two rows per entry: the slot number above
// the truncated name.
func presetsPage(presets []Preset) (Page, bool) {
	page := Page{
		ID:         "presets",
		Name:       "Presets",
		GridWidth:  gridWidth,
		GridHeight: gridHeight,
	}

	row, col := 0, 0
	for i, preset := range presets {
		if i >= 12 {
			break
		}
		command := fmt.Sprintf("preset_%d", preset.Number)
		page.Items = append(page.Items,
			GridItem{Text: fmt.Sprintf("#%d", preset.Number), X: col, Y: row, Command: command},
			GridItem{Text: truncate(preset.Name, presetLabelLen), X: col, Y: row + 1, Command: command},
		)
		col++
		if col >= gridWidth {
			col = 0
			row += 2
		}
		if row >= gridHeight {
			break
		}
	}

	return page, len(page.Items) > 0
}

func eqPage(presets []string) Page {
	page := Page{
		ID:         "equalizer",
		Name:       "Equalizer",
		GridWidth:  gridWidth,
		GridHeight: gridHeight,
		Items: []GridItem{
			{Text: "EQ On", X: 0, Y: 0, Command: "eq_on"},
			{Text: "EQ Off", X: 1, Y: 0, Command: "eq_off"},
		},
	}

	row, col := 1, 0
	for i, preset := range presets {
		if i >= 14 {
			break
		}
		page.Items = append(page.Items, GridItem{
			Text: truncate(preset, presetLabelLen), X: col, Y: row, Command: "eq_" + Slug(preset),
		})
		col++
		if col >= gridWidth {
			col = 0
			row++
		}
		if row >= gridHeight {
			break
		}
	}

	return page
}

func devicePage() Page {
	return Page{
		ID:         "device",
		Name:       "Device",
		GridWidth:  gridWidth,
		GridHeight: gridHeight,
		Items: []GridItem{
			{Text: "Disp On", X: 0, Y: 0, Command: "display_on"},
			{Text: "Disp Off", X: 1, Y: 0, Command: "display_off"},
			{Text: "Disp Tgl", X: 2, Y: 0, Command: "toggle_display"},
			{Text: "Reboot", X: 3, Y: 0, Command: "reboot_device"},
		},
	}
}

// distinctPresetSources returns preset sources in first-seen order.
func distinctPresetSources(presets []Preset) []string {
	var sources []string
	seen := map[string]bool{}
	for _, preset := range presets {
		source := preset.Source
		if source == "" {
			source = "Unknown"
		}
		if seen[source] {
			continue
		}
		seen[source] = true
		sources = append(sources, source)
	}
	return sources
}

// Slug turns a display name into a command fragment: lowercase, with spaces
// and hyphens folded to underscores.
func Slug(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

// unslug reverses Slug for EQ preset names: underscores back to spaces,
// title-cased per word.
func unslug(slug string) string {
	words := strings.Split(slug, "_")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

func outputFragment(outputID string) string {
	return strings.TrimPrefix(outputID, "output_")
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
