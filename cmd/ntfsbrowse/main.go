package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/s0up4200/go-ntfs/internal/ntfs"
	"github.com/s0up4200/go-ntfs/internal/source"
	"github.com/s0up4200/go-ntfs/internal/util"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)
)

// State represents the current screen
type State int

const (
	StateEnterPath State = iota
	StateBrowse
	StateError
)

type model struct {
	state  State
	width  int
	height int
	err    error

	// Image path input
	pathInput textinput.Model

	// Volume being browsed
	vol      *ntfs.Volume
	closeSrc func()

	// Directory navigation
	dirList   list.Model
	dirStack  []uint64 // record numbers from root to current
	statusMsg string
}

type entryItem struct {
	name   string
	record uint64
	dir    bool
	size   uint64
}

func (i entryItem) Title() string {
	if i.dir {
		return "📁 " + i.name
	}
	return "📄 " + i.name
}

func (i entryItem) Description() string {
	if i.dir {
		return fmt.Sprintf("directory, record #%d", i.record)
	}
	return fmt.Sprintf("%s | record #%d", util.FormatFileSize(float64(i.size), true), i.record)
}

func (i entryItem) FilterValue() string { return i.name }

type volumeOpenedMsg struct {
	vol      *ntfs.Volume
	closeSrc func()
	err      error
}

func initialModel(imagePath string) model {
	pathInput := textinput.New()
	pathInput.Placeholder = "/path/to/ntfs.img"
	pathInput.SetValue(imagePath)
	pathInput.Focus()
	pathInput.Width = 50

	dirList := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	dirList.Title = "NTFS volume"
	dirList.SetShowStatusBar(false)
	dirList.SetFilteringEnabled(true)

	return model{
		state:     StateEnterPath,
		pathInput: pathInput,
		dirList:   dirList,
	}
}

func (m model) Init() tea.Cmd {
	if m.pathInput.Value() != "" {
		return openVolume(m.pathInput.Value())
	}
	return textinput.Blink
}

func openVolume(path string) tea.Cmd {
	return func() tea.Msg {
		src, closeSrc, err := openSource(path)
		if err != nil {
			return volumeOpenedMsg{err: err}
		}
		vol, err := ntfs.New(src, ntfs.Options{Logger: log.New(io.Discard, "", 0)})
		if err != nil {
			closeSrc()
			return volumeOpenedMsg{err: err}
		}
		return volumeOpenedMsg{vol: vol, closeSrc: closeSrc}
	}
}

func openSource(path string) (source.Source, func(), error) {
	if mapped, err := source.OpenMapped(path); err == nil {
		return mapped, func() { mapped.Close() }, nil
	}
	f, err := source.OpenFile(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.dirList.SetSize(msg.Width-4, msg.Height-8)
		return m, nil

	case volumeOpenedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.state = StateError
			return m, nil
		}
		m.vol = msg.vol
		m.closeSrc = msg.closeSrc
		m.dirStack = []uint64{ntfs.RecordRoot}
		m.state = StateBrowse
		return m.reloadEntries()
	}

	switch m.state {
	case StateEnterPath:
		return m.updateEnterPath(msg)
	case StateBrowse:
		return m.updateBrowse(msg)
	case StateError:
		if _, ok := msg.(tea.KeyMsg); ok {
			return m, tea.Quit
		}
	}

	return m, nil
}

func (m model) updateEnterPath(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "enter":
			if m.pathInput.Value() != "" {
				return m, openVolume(m.pathInput.Value())
			}
		case "esc":
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.pathInput, cmd = m.pathInput.Update(msg)
	return m, cmd
}

func (m model) updateBrowse(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && !m.dirList.SettingFilter() {
		switch key.String() {
		case "q", "esc":
			if m.closeSrc != nil {
				m.closeSrc()
			}
			return m, tea.Quit

		case "enter":
			if item, ok := m.dirList.SelectedItem().(entryItem); ok && item.dir {
				m.dirStack = append(m.dirStack, item.record)
				return m.reloadEntries()
			}

		case "backspace", "left":
			if len(m.dirStack) > 1 {
				m.dirStack = m.dirStack[:len(m.dirStack)-1]
				return m.reloadEntries()
			}

		case "x":
			if item, ok := m.dirList.SelectedItem().(entryItem); ok && !item.dir {
				m.statusMsg = m.extract(item)
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	m.dirList, cmd = m.dirList.Update(msg)
	return m, cmd
}

// reloadEntries repopulates the list with the children of the directory on
// top of the stack.
func (m model) reloadEntries() (tea.Model, tea.Cmd) {
	current := m.dirStack[len(m.dirStack)-1]

	rec, err := m.vol.FileRecord(current)
	if err != nil || rec == nil {
		m.err = fmt.Errorf("cannot load record #%d", current)
		m.state = StateError
		return m, nil
	}

	var items []list.Item
	for _, entry := range m.vol.Children(rec) {
		n := entry.Ref.RecordNumber()
		if n == ntfs.RecordRoot {
			continue
		}
		child, err := m.vol.FileRecord(n)
		if err != nil || child == nil {
			continue
		}
		items = append(items, entryItem{
			name:   entry.Name,
			record: n,
			dir:    child.IsDirectory(),
			size:   entry.RealSize,
		})
	}

	title := "\\"
	if name := rec.DisplayName(); name != "" && current != ntfs.RecordRoot {
		title = name
	}
	m.dirList.Title = title
	cmd := m.dirList.SetItems(items)
	m.dirList.ResetSelected()
	m.statusMsg = ""
	return m, cmd
}

// extract writes every stream of the selected file into the working
// directory.
func (m model) extract(item entryItem) string {
	rec, err := m.vol.FileRecord(item.record)
	if err != nil || rec == nil {
		return errorStyle.Render("cannot load record")
	}

	names := rec.StreamNames()
	if len(names) == 0 {
		return errorStyle.Render("no data streams")
	}

	for _, stream := range names {
		saveName := item.name
		if stream != "" {
			saveName = item.name + "_" + stream
		}

		r, ok := m.vol.OpenStream(rec, stream)
		if !ok {
			continue
		}
		out, err := os.Create(saveName)
		if err != nil {
			return errorStyle.Render(err.Error())
		}
		_, err = r.WriteTo(out)
		out.Close()
		if err != nil {
			return errorStyle.Render(err.Error())
		}
	}

	return successStyle.Render(fmt.Sprintf("extracted %d stream(s) of %s", len(names), item.name))
}

func (m model) View() string {
	switch m.state {
	case StateEnterPath:
		return fmt.Sprintf("\n%s\n\n  Image path:\n  %s\n\n%s\n",
			titleStyle.Render("NTFS Browser"),
			m.pathInput.View(),
			helpStyle.Render("  enter: open • esc: quit"))

	case StateBrowse:
		view := "\n" + m.dirList.View()
		if m.statusMsg != "" {
			view += "\n  " + m.statusMsg
		}
		view += "\n" + helpStyle.Render("  enter: open dir • backspace: up • x: extract • q: quit")
		return view

	case StateError:
		return fmt.Sprintf("\n%s\n\n%s\n",
			errorStyle.Render("Error: "+m.err.Error()),
			helpStyle.Render("  press any key to exit"))
	}
	return ""
}

func main() {
	imagePath := ""
	if len(os.Args) > 1 {
		imagePath = os.Args[1]
	}

	p := tea.NewProgram(initialModel(imagePath), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
