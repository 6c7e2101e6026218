// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"daq/internal/daq"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)
)

var (
	keyQuit  = key.NewBinding(key.WithKeys("q", "ctrl+c"))
	keyUp    = key.NewBinding(key.WithKeys("up", "k"))
	keyDown  = key.NewBinding(key.WithKeys("down", "j"))
	keyLeft  = key.NewBinding(key.WithKeys("left", "h"))
	keyRight = key.NewBinding(key.WithKeys("right", "l"))
	keyEnter = key.NewBinding(key.WithKeys("enter"))
	keyBack  = key.NewBinding(key.WithKeys("esc"))
)

// ScreenType defines which screen is currently active
type ScreenType int

const (
	ListScreen ScreenType = iota
	ConfigScreen
)

// configField is a row of the configuration screen.
type configField int

const (
	fieldSampleRate configField = iota
	fieldDataType
	fieldFramesPerBlock
	numConfigFields
)

// DeviceFetcher returns the devices to show.
type DeviceFetcher func() ([]daq.DeviceInfo, error)

// DeviceListModel is the Bubble Tea model for browsing stream devices and
// picking the settings to run one with.
type DeviceListModel struct {
	fetch         DeviceFetcher
	devices       []daq.DeviceInfo
	selectedIndex int
	viewport      viewport.Model
	ready         bool
	err           error
	activeScreen  ScreenType

	// Configuration screen state, indices into the selected device's lists.
	field       configField
	rateIndex   int
	typeIndex   int
	framesIndex int

	chosen *Selection
}

// Selection is what the user confirmed on the configuration screen.
type Selection struct {
	Device         daq.DeviceInfo
	SampleRate     float64
	DataType       daq.DataType
	FramesPerBlock int
}

type devicesMsg struct {
	devices []daq.DeviceInfo
}

type errMsg struct {
	err error
}

// NewDeviceListModel creates a model listing the devices fetch returns.
func NewDeviceListModel(fetch DeviceFetcher) DeviceListModel {
	return DeviceListModel{
		fetch:        fetch,
		activeScreen: ListScreen,
	}
}

// Init fetches the devices.
func (m DeviceListModel) Init() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		devices, err := fetch()
		if err != nil {
			return errMsg{err}
		}
		return devicesMsg{devices}
	}
}

// Selection returns the confirmed settings, or nil if the user quit
// without confirming.
func (m DeviceListModel) Selection() *Selection { return m.chosen }

func (m DeviceListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.viewport.Style = lipgloss.NewStyle()
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.refresh()

	case devicesMsg:
		m.devices = msg.devices
		m.selectedIndex = 0
		for i, d := range m.devices {
			if d.Default {
				m.selectedIndex = i
				break
			}
		}
		m.refresh()

	case errMsg:
		m.err = msg.err

	case tea.KeyMsg:
		if key.Matches(msg, keyQuit) {
			return m, tea.Quit
		}
		if m.activeScreen == ListScreen {
			m.updateList(msg)
		} else if done := m.updateConfig(msg); done {
			return m, tea.Quit
		}
		m.refresh()
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *DeviceListModel) updateList(msg tea.KeyMsg) {
	switch {
	case key.Matches(msg, keyUp):
		if m.selectedIndex > 0 {
			m.selectedIndex--
		}
	case key.Matches(msg, keyDown):
		if m.selectedIndex < len(m.devices)-1 {
			m.selectedIndex++
		}
	case key.Matches(msg, keyEnter):
		if len(m.devices) == 0 {
			return
		}
		d := m.devices[m.selectedIndex]
		m.activeScreen = ConfigScreen
		m.field = fieldSampleRate
		m.rateIndex = indexOf(d.AvailableSampleRates, d.PreferredSampleRate)
		m.typeIndex = indexOf(d.AvailableDataTypes, d.PreferredDataType)
		m.framesIndex = indexOf(d.AvailableFramesPerBlock, d.PreferredFramesPerBlock)
	}
}

// updateConfig handles keys on the configuration screen and reports
// whether the user confirmed the selection.
func (m *DeviceListModel) updateConfig(msg tea.KeyMsg) bool {
	d := m.devices[m.selectedIndex]
	switch {
	case key.Matches(msg, keyBack):
		m.activeScreen = ListScreen
	case key.Matches(msg, keyUp):
		if m.field > 0 {
			m.field--
		}
	case key.Matches(msg, keyDown):
		if m.field < numConfigFields-1 {
			m.field++
		}
	case key.Matches(msg, keyLeft):
		m.step(d, -1)
	case key.Matches(msg, keyRight):
		m.step(d, 1)
	case key.Matches(msg, keyEnter):
		m.chosen = &Selection{
			Device:         d,
			SampleRate:     pick(d.AvailableSampleRates, m.rateIndex, d.PreferredSampleRate),
			DataType:       pick(d.AvailableDataTypes, m.typeIndex, d.PreferredDataType),
			FramesPerBlock: pick(d.AvailableFramesPerBlock, m.framesIndex, d.PreferredFramesPerBlock),
		}
		return true
	}
	return false
}

func (m *DeviceListModel) step(d daq.DeviceInfo, delta int) {
	switch m.field {
	case fieldSampleRate:
		m.rateIndex = clamp(m.rateIndex+delta, len(d.AvailableSampleRates))
	case fieldDataType:
		m.typeIndex = clamp(m.typeIndex+delta, len(d.AvailableDataTypes))
	case fieldFramesPerBlock:
		m.framesIndex = clamp(m.framesIndex+delta, len(d.AvailableFramesPerBlock))
	}
}

func (m *DeviceListModel) refresh() {
	if !m.ready {
		return
	}
	if m.activeScreen == ListScreen {
		m.viewport.SetContent(m.renderDevices())
	} else {
		m.viewport.SetContent(m.renderDeviceConfig())
	}
}

// View renders the UI
func (m DeviceListModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress q to exit.", m.err)
	}
	if !m.ready {
		return "Initializing..."
	}

	var title, help string
	if m.activeScreen == ListScreen {
		title = titleStyle.Render("Device List")
		help = infoStyle.Render("↑/↓: Navigate • Enter: Configure • q: Quit")
	} else {
		title = titleStyle.Render("Stream Configuration")
		help = infoStyle.Render("↑/↓: Field • ←/→: Change Value • Enter: Select • Esc: Back • q: Quit")
	}
	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

func (m DeviceListModel) renderDevices() string {
	if len(m.devices) == 0 {
		return "No devices found."
	}

	var sb strings.Builder
	for i, d := range m.devices {
		marker := ""
		if d.Default {
			marker = " *"
		}
		info := fmt.Sprintf("[%d] %s (%s, %s)%s\n", i, d.Name, d.API, d.Kind(), marker)
		info += fmt.Sprintf("    Input channels: %d, Output channels: %d, Duplex: %v\n",
			d.InChannels, d.OutChannels, d.Duplex)
		info += fmt.Sprintf("    Preferred: %.0f Hz, %v, %d frames/block\n",
			d.PreferredSampleRate, d.PreferredDataType, d.PreferredFramesPerBlock)

		if i == m.selectedIndex {
			info = highlightStyle.Render(info)
		}
		sb.WriteString(info)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m DeviceListModel) renderDeviceConfig() string {
	d := m.devices[m.selectedIndex]

	var sb strings.Builder
	fmt.Fprintf(&sb, "Configure Device: %s\n\n", d.Name)

	rows := []struct {
		field configField
		label string
		value string
	}{
		{fieldSampleRate, "Sample Rate", fmt.Sprintf("%.0f Hz", pick(d.AvailableSampleRates, m.rateIndex, d.PreferredSampleRate))},
		{fieldDataType, "Data Type", pick(d.AvailableDataTypes, m.typeIndex, d.PreferredDataType).String()},
		{fieldFramesPerBlock, "Frames/Block", fmt.Sprintf("%d", pick(d.AvailableFramesPerBlock, m.framesIndex, d.PreferredFramesPerBlock))},
	}
	for _, r := range rows {
		line := fmt.Sprintf("    %-14s ◀ %s ▶\n", r.label, r.value)
		if r.field == m.field {
			line = highlightStyle.Render("  ▶ " + line[4:])
		}
		sb.WriteString(line)
	}
	return sb.String()
}

func indexOf[T comparable](s []T, v T) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return 0
}

func pick[T any](s []T, i int, fallback T) T {
	if i < 0 || i >= len(s) {
		return fallback
	}
	return s[i]
}

func clamp(i, n int) int {
	if i < 0 || n == 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// StartDeviceListUI runs the device browser and returns the confirmed
// selection, or nil if the user quit.
func StartDeviceListUI(fetch DeviceFetcher) (*Selection, error) {
	p := tea.NewProgram(
		NewDeviceListModel(fetch),
		tea.WithAltScreen(),
	)
	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	return final.(DeviceListModel).Selection(), nil
}
