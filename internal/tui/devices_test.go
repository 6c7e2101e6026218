// SPDX-License-Identifier: MIT
package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daq/internal/daq"
)

var testDevices = []daq.DeviceInfo{
	{
		API:                     "Simulated",
		Name:                    "Line in",
		AvailableDataTypes:      []daq.DataType{daq.I16, daq.F32},
		PreferredDataType:       daq.F32,
		AvailableSampleRates:    []float64{44100, 48000, 96000},
		PreferredSampleRate:     48000,
		AvailableFramesPerBlock: []int{256, 512},
		PreferredFramesPerBlock: 512,
		InChannels:              2,
	},
	{
		API:                     "Simulated",
		Name:                    "Interface",
		AvailableDataTypes:      []daq.DataType{daq.I32},
		PreferredDataType:       daq.I32,
		AvailableSampleRates:    []float64{48000},
		PreferredSampleRate:     48000,
		AvailableFramesPerBlock: []int{1024},
		PreferredFramesPerBlock: 1024,
		InChannels:              4,
		OutChannels:             4,
		Duplex:                  true,
		Default:                 true,
	},
}

func update(t *testing.T, m DeviceListModel, msg tea.Msg) (DeviceListModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(DeviceListModel), cmd
}

func keyMsg(k tea.KeyType) tea.KeyMsg { return tea.KeyMsg{Type: k} }

func loaded(t *testing.T) DeviceListModel {
	t.Helper()
	m := NewDeviceListModel(func() ([]daq.DeviceInfo, error) { return testDevices, nil })
	msg := m.Init()()
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})
	m, _ = update(t, m, msg)
	return m
}

func TestDeviceListSelectsDefault(t *testing.T) {
	m := loaded(t)
	assert.Equal(t, 1, m.selectedIndex)

	view := m.View()
	assert.Contains(t, view, "Line in")
	assert.Contains(t, view, "Interface")
	assert.Contains(t, view, "Input/Output")
}

func TestDeviceListConfigure(t *testing.T) {
	m := loaded(t)
	m, _ = update(t, m, keyMsg(tea.KeyUp))
	require.Equal(t, 0, m.selectedIndex)

	m, _ = update(t, m, keyMsg(tea.KeyEnter))
	require.Equal(t, ConfigScreen, m.activeScreen)
	assert.Contains(t, m.View(), "48000 Hz")

	// Sample rate up one step, data type down one step.
	m, _ = update(t, m, keyMsg(tea.KeyRight))
	m, _ = update(t, m, keyMsg(tea.KeyDown))
	m, _ = update(t, m, keyMsg(tea.KeyLeft))
	// Past the end stays on the last entry.
	m, _ = update(t, m, keyMsg(tea.KeyDown))
	m, _ = update(t, m, keyMsg(tea.KeyRight))
	m, _ = update(t, m, keyMsg(tea.KeyRight))

	m, cmd := update(t, m, keyMsg(tea.KeyEnter))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())

	sel := m.Selection()
	require.NotNil(t, sel)
	assert.Equal(t, "Line in", sel.Device.Name)
	assert.Equal(t, 96000.0, sel.SampleRate)
	assert.Equal(t, daq.I16, sel.DataType)
	assert.Equal(t, 512, sel.FramesPerBlock)
}

func TestDeviceListBackAndQuit(t *testing.T) {
	m := loaded(t)
	m, _ = update(t, m, keyMsg(tea.KeyEnter))
	m, _ = update(t, m, keyMsg(tea.KeyEsc))
	assert.Equal(t, ListScreen, m.activeScreen)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Nil(t, m.Selection())
}

func TestDeviceListFetchError(t *testing.T) {
	m := NewDeviceListModel(func() ([]daq.DeviceInfo, error) { return nil, errors.New("no backend") })
	m, _ = update(t, m, m.Init()())
	assert.True(t, strings.HasPrefix(m.View(), "Error: no backend"))
}

func TestDeviceListEmpty(t *testing.T) {
	m := NewDeviceListModel(func() ([]daq.DeviceInfo, error) { return nil, nil })
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 20})
	m, _ = update(t, m, m.Init()())
	assert.Contains(t, m.View(), "No devices found.")

	// Enter without devices stays on the list.
	m, _ = update(t, m, keyMsg(tea.KeyEnter))
	assert.Equal(t, ListScreen, m.activeScreen)
}
