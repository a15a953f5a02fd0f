package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/plane-watch/pw-ingest/lib/tracker"
)

// row is one aircraft's current display state, also the google/btree.Item
// stored in model.rows: ordered most-recently-updated first, ICAO as a
// tiebreaker so the ordering is total even when two updates land in the
// same time.Time tick.
type row struct {
	icao     string
	lastSeen time.Time
	callsign string
	squawk   string
	altitude string
	track    string
	groundKt string
}

// Less implements btree.Item: newer lastSeen sorts first, ICAO breaks ties.
func (r *row) Less(than btree.Item) bool {
	o := than.(*row)
	if !r.lastSeen.Equal(o.lastSeen) {
		return r.lastSeen.After(o.lastSeen)
	}
	return r.icao < o.icao
}

func rowFromEvent(ev tracker.SubscriptionEvent) *row {
	a := ev.Aircraft
	r := &row{icao: a.ICAO.String(), lastSeen: ev.Timestamp}
	if cs, ok := a.Callsign.Get(); ok {
		r.callsign = cs.String()
	}
	if sq, ok := a.Squawk.Get(); ok {
		r.squawk = sq.String()
	}
	if alt, ok := a.AltitudeBarometricFt.Get(); ok {
		r.altitude = fmt.Sprintf("%d", alt)
	}
	if trk, ok := a.Track.Get(); ok {
		r.track = fmt.Sprintf("%.0f", trk)
	}
	if gs, ok := a.GroundSpeedKt.Get(); ok {
		r.groundKt = fmt.Sprintf("%.0f", gs)
	}
	return r
}

// icaoKey finds the previously stored row for icao, if any, so it can be
// deleted before a re-insert under its new sort key.
func (m *model) icaoKey(icao string) (*row, bool) {
	old, ok := m.byICAO[icao]
	return old, ok
}

type tableMsg tracker.SubscriptionEvent

type model struct {
	ctx     context.Context
	tracker *tracker.Tracker
	subID   uuid.UUID
	events  chan tracker.SubscriptionEvent

	tree   *btree.BTree
	byICAO map[string]*row

	tbl table.Model
}

func newModel(ctx context.Context, t *tracker.Tracker) *model {
	columns := []table.Column{
		{Title: "ICAO", Width: 8},
		{Title: "Callsign", Width: 10},
		{Title: "Squawk", Width: 6},
		{Title: "Alt (ft)", Width: 8},
		{Title: "Track", Width: 6},
		{Title: "GS (kt)", Width: 8},
		{Title: "Last seen", Width: 10},
	}
	tbl := table.New(table.WithColumns(columns), table.WithFocused(false))
	style := table.DefaultStyles()
	style.Header = style.Header.Bold(true).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true)
	tbl.SetStyles(style)

	return &model{
		ctx:     ctx,
		tracker: t,
		tree:    btree.New(32),
		byICAO:  make(map[string]*row),
		tbl:     tbl,
	}
}

func (m *model) Init() tea.Cmd {
	m.events = make(chan tracker.SubscriptionEvent, 1024)
	m.subID = m.tracker.Subscribe("pw_top", tracker.Filter{}, m.events)
	return waitForEvent(m.events)
}

func waitForEvent(events chan tracker.SubscriptionEvent) tea.Cmd {
	return func() tea.Msg {
		return tableMsg(<-events)
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.tracker.Unsubscribe(m.subID)
			return m, tea.Quit
		}
	case tableMsg:
		m.applyEvent(tracker.SubscriptionEvent(msg))
		m.refreshRows()
		return m, waitForEvent(m.events)
	}
	return m, nil
}

func (m *model) applyEvent(ev tracker.SubscriptionEvent) {
	if old, ok := m.icaoKey(ev.ICAO.String()); ok {
		m.tree.Delete(old)
	}
	r := rowFromEvent(ev)
	m.byICAO[r.icao] = r
	m.tree.ReplaceOrInsert(r)
}

func (m *model) refreshRows() {
	rows := make([]table.Row, 0, m.tree.Len())
	m.tree.Ascend(func(item btree.Item) bool {
		r := item.(*row)
		rows = append(rows, table.Row{
			r.icao, r.callsign, r.squawk, r.altitude, r.track, r.groundKt,
			r.lastSeen.Format("15:04:05"),
		})
		return true
	})
	m.tbl.SetRows(rows)
}

func (m *model) View() string {
	return m.tbl.View() + "\n(q to quit)\n"
}
