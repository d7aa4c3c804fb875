package dedup

import (
	"sort"
	"time"

	"github.com/pfrederiksen/hockeygamebot/internal/game"
	"github.com/pfrederiksen/hockeygamebot/internal/logger"
	"github.com/pfrederiksen/hockeygamebot/internal/state"
)

// DefaultRetractionConfirmations is how many accepted cycles an emitted
// occurrence has to be missing before it is considered retracted.
const DefaultRetractionConfirmations = 5

// The one minute warning goes out while this much time is left in a period.
const (
	minuteWarningLatest   = 65 * time.Second
	minuteWarningEarliest = 50 * time.Second
)

// Deduplicator plans emissions from accepted deltas. It reads the emission
// record in the GameState but only Commit writes to it.
type Deduplicator struct {
	RetractionConfirmations int
	log                     *logger.Logger
}

// New creates a deduplicator with the default retraction confirmations.
func New(log *logger.Logger) *Deduplicator {
	if log == nil {
		log = logger.Default()
	}
	return &Deduplicator{
		RetractionConfirmations: DefaultRetractionConfirmations,
		log:                     log,
	}
}

// plan collects emissions by dispatch group.
type plan struct {
	opening     []Emission
	retractions []Emission
	corrections []Emission
	news        []Emission
	clock       []Emission
	closing     []Emission
	roster      []Emission
}

func (p *plan) ordered() []Emission {
	sort.SliceStable(p.news, func(i, j int) bool {
		a, b := p.news[i].Occurrence, p.news[j].Occurrence
		if a.Before(*b) != b.Before(*a) {
			return a.Before(*b)
		}
		return p.news[i].Fingerprint < p.news[j].Fingerprint
	})

	var out []Emission
	for _, group := range [][]Emission{p.opening, p.retractions, p.corrections, p.news, p.clock, p.closing, p.roster} {
		out = append(out, group...)
	}
	return out
}

// Process plans the emissions for one machine outcome. gs must already hold
// the accepted snapshot. Rejected outcomes produce nothing.
//
// Pending retraction counters are advanced here since they track what the
// feed shows, not what was dispatched.
func (d *Deduplicator) Process(gs *state.GameState, out state.Outcome) []Emission {
	if !out.Accepted || out.Deltas == nil {
		return nil
	}

	snap := gs.LastAccepted
	p := &plan{}

	if out.Change != nil {
		e := Emission{
			Type:     EventStatusChanged,
			GameID:   gs.GameID,
			Key:      emissionKey(gs.GameID, EventStatusChanged, string(out.Change.From)+">"+string(out.Change.To), ""),
			Status:   out.Change,
			Snapshot: snap,
		}
		if out.Change.To == game.StatusLive {
			p.opening = append(p.opening, e)
		} else {
			p.closing = append(p.closing, e)
		}
	}

	if pd := out.Deltas.Period; pd != nil && pd.To.Started() {
		p.opening = append(p.opening, Emission{
			Type:     EventPeriodChanged,
			GameID:   gs.GameID,
			Key:      emissionKey(gs.GameID, EventPeriodChanged, pd.To.Label(), ""),
			Period:   pd,
			Snapshot: snap,
		})
	}

	d.advanceRetractions(gs, snap, out.Deltas, p)

	for _, od := range out.Deltas.Occurrences {
		switch od.Type {
		case game.DeltaAdded:
			d.added(gs, od, p)
		case game.DeltaChanged:
			d.changed(gs, od, p)
		}
	}

	if e, ok := minuteWarning(gs, snap); ok {
		p.clock = append(p.clock, e)
	}

	for i := range out.Deltas.Roster {
		rd := out.Deltas.Roster[i]
		p.roster = append(p.roster, Emission{
			Type:     EventRosterChanged,
			GameID:   gs.GameID,
			Key:      emissionKey(gs.GameID, EventRosterChanged, rd.Team, rosterSubject(rd)),
			Roster:   &rd,
			Snapshot: snap,
		})
	}

	for i := range p.news {
		p.news[i].Snapshot = snap
	}
	for i := range p.corrections {
		p.corrections[i].Snapshot = snap
	}
	for i := range p.retractions {
		p.retractions[i].Snapshot = snap
	}

	return p.ordered()
}

func (d *Deduplicator) added(gs *state.GameState, od game.OccurrenceDelta, p *plan) {
	occ := od.New
	hash := occ.ContentHash()
	stored, emitted := gs.Emitted[od.Fingerprint]

	switch {
	case !emitted:
		p.news = append(p.news, Emission{
			Type:        EventNewOccurrence,
			GameID:      gs.GameID,
			Key:         emissionKey(gs.GameID, EventNewOccurrence, string(od.Fingerprint), ""),
			Fingerprint: od.Fingerprint,
			Hash:        hash,
			Occurrence:  occ,
		})
	case stored == state.RetractedHash:
		e := correction(gs, od.Fingerprint, hash, occ, nil)
		e.Reinstated = true
		p.corrections = append(p.corrections, e)
	case stored != hash:
		// Came back after a gap with different content.
		p.corrections = append(p.corrections, correction(gs, od.Fingerprint, hash, occ, nil))
	default:
		logger.IncrCounter("dedup.suppressed")
		d.log.Debug("Duplicate occurrence suppressed", logger.Fields{
			"game_id":     gs.GameID,
			"fingerprint": string(od.Fingerprint),
		})
	}
}

func (d *Deduplicator) changed(gs *state.GameState, od game.OccurrenceDelta, p *plan) {
	hash := od.New.ContentHash()
	stored, emitted := gs.Emitted[od.Fingerprint]

	switch {
	case !emitted:
		// Never announced, e.g. its first render failed.
		p.news = append(p.news, Emission{
			Type:        EventNewOccurrence,
			GameID:      gs.GameID,
			Key:         emissionKey(gs.GameID, EventNewOccurrence, string(od.Fingerprint), ""),
			Fingerprint: od.Fingerprint,
			Hash:        hash,
			Occurrence:  od.New,
		})
	case stored == hash:
		logger.IncrCounter("dedup.suppressed")
	default:
		e := correction(gs, od.Fingerprint, hash, od.New, od.Old)
		e.Reinstated = stored == state.RetractedHash
		p.corrections = append(p.corrections, e)
	}
}

// correction plans a correction of fp against the version that was last
// announced. fallback is used when the record holds no copy of it.
func correction(gs *state.GameState, fp game.Fingerprint, hash string, cur, fallback *game.Occurrence) Emission {
	e := Emission{
		Type:        EventOccurrenceCorrected,
		GameID:      gs.GameID,
		Key:         emissionKey(gs.GameID, EventOccurrenceCorrected, string(fp), hash),
		Fingerprint: fp,
		Hash:        hash,
		Occurrence:  cur,
	}

	prev, ok := gs.AnnouncedOccurrence(fp)
	switch {
	case ok:
		e.Previous = &prev
	case fallback != nil:
		e.Previous = fallback
	default:
		if parsed, ok := game.ParseFingerprint(fp); ok {
			e.Previous = &parsed
		}
		e.Correction = &Correction{}
		return e
	}
	e.Correction = diffOccurrence(*e.Previous, *cur)
	return e
}

// minuteWarning plans the one minute warning of the period being played.
func minuteWarning(gs *state.GameState, snap *game.Snapshot) (Emission, bool) {
	if snap == nil || gs.Status != game.StatusLive {
		return Emission{}, false
	}
	period := snap.Period
	if !period.Started() || period.Type == game.PeriodShootout || gs.MinuteWarningSent(period) {
		return Emission{}, false
	}
	if left := snap.Clock.Remaining; left < minuteWarningEarliest || left > minuteWarningLatest {
		return Emission{}, false
	}
	return Emission{
		Type:     EventMinuteRemaining,
		GameID:   gs.GameID,
		Key:      emissionKey(gs.GameID, EventMinuteRemaining, period.Label(), ""),
		Period:   &game.PeriodDelta{From: period, To: period},
		Snapshot: snap,
	}, true
}

// advanceRetractions counts how long emitted occurrences have been missing
// and plans a retraction once the count is confirmed.
func (d *Deduplicator) advanceRetractions(gs *state.GameState, snap *game.Snapshot, deltas *game.DeltaSet, p *plan) {
	if gs.PendingRetractions == nil {
		gs.PendingRetractions = make(map[game.Fingerprint]int)
	}

	present := snap.Index()
	for fp := range gs.PendingRetractions {
		if _, ok := present[fp]; ok {
			delete(gs.PendingRetractions, fp)
			continue
		}
		gs.PendingRetractions[fp]++
	}

	for _, od := range deltas.Removed() {
		stored, emitted := gs.Emitted[od.Fingerprint]
		if !emitted || stored == state.RetractedHash {
			continue
		}
		if _, pending := gs.PendingRetractions[od.Fingerprint]; !pending {
			gs.PendingRetractions[od.Fingerprint] = 1
		}
	}

	confirmations := d.RetractionConfirmations
	if confirmations < 1 {
		confirmations = 1
	}

	var confirmed []game.Fingerprint
	for fp, n := range gs.PendingRetractions {
		if n >= confirmations {
			confirmed = append(confirmed, fp)
		}
	}
	sort.Slice(confirmed, func(i, j int) bool { return confirmed[i] < confirmed[j] })

	for _, fp := range confirmed {
		delete(gs.PendingRetractions, fp)
		occ, ok := gs.AnnouncedOccurrence(fp)
		if !ok {
			occ, ok = game.ParseFingerprint(fp)
		}
		if !ok {
			d.log.Warn("Unparseable fingerprint in emission record", logger.Fields{
				"game_id": gs.GameID, "fingerprint": string(fp),
			})
			continue
		}
		p.retractions = append(p.retractions, Emission{
			Type:        EventOccurrenceRetracted,
			GameID:      gs.GameID,
			Key:         emissionKey(gs.GameID, EventOccurrenceRetracted, string(fp), gs.Emitted[fp]),
			Fingerprint: fp,
			Hash:        state.RetractedHash,
			Occurrence:  &occ,
		})
	}
}

// Commit records a successfully handed off emission in gs.
func (d *Deduplicator) Commit(gs *state.GameState, e Emission) {
	switch e.Type {
	case EventNewOccurrence, EventOccurrenceCorrected:
		gs.RecordOccurrence(e.Fingerprint, e.Hash, *e.Occurrence)
	case EventOccurrenceRetracted:
		// The announced copy stays, a reinstatement is compared against it.
		gs.RecordEmission(e.Fingerprint, e.Hash)
	case EventMinuteRemaining:
		gs.RecordMinuteWarning(e.Period.To)
	}
}

func rosterSubject(rd game.RosterDelta) string {
	var s string
	for _, id := range rd.Added {
		s += "+" + id
	}
	for _, id := range rd.Removed {
		s += "-" + id
	}
	return s
}
