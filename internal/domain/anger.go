package domain

const (
	// MinAnger and MaxAnger bound the anger level domain.
	MinAnger = 0
	MaxAnger = 10

	// BootstrapAnger is the level the guest starts every encounter at.
	BootstrapAnger = 9
)

// ClampAnger forces level into [MinAnger, MaxAnger].
func ClampAnger(level int) int {
	if level < MinAnger {
		return MinAnger
	}
	if level > MaxAnger {
		return MaxAnger
	}
	return level
}

// AngerBand is the display classification of an anger level.
type AngerBand string

const (
	BandCalm    AngerBand = "CALM / RESOLVED"
	BandAnnoyed AngerBand = "ANNOYED"
	BandUpset   AngerBand = "UPSET"
	BandFurious AngerBand = "FURIOUS"
	BandIrate   AngerBand = "IRATE (DANGER)"
)

// BandFor classifies an anger level.
func BandFor(level int) AngerBand {
	switch {
	case level < 2:
		return BandCalm
	case level < 4:
		return BandAnnoyed
	case level < 6:
		return BandUpset
	case level < 8:
		return BandFurious
	default:
		return BandIrate
	}
}
