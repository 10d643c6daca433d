package clientagent

// Welcome Valley zones are instanced copies of Toontown Central and
// Goofy Speedway carved out of a dedicated id range. Each instance
// occupies a block of 2000 zones: the first thousand mirrors TTC, the
// second mirrors the speedway. Visgroup tables are authored against the
// canonical hoods, so interest expansion maps instanced zones to their
// canonical twin and back.
const (
	welcomeValleyBegin uint32 = 22000
	welcomeValleyEnd   uint32 = 61000

	toontownCentral uint32 = 2000
	goofySpeedway   uint32 = 8000
)

func isWelcomeValley(zoneId uint32) bool {
	return zoneId >= welcomeValleyBegin && zoneId < welcomeValleyEnd
}

// canonicalZoneId maps an instanced Welcome Valley zone to the zone it
// mirrors. Other zones are already canonical.
func canonicalZoneId(zoneId uint32) uint32 {
	if !isWelcomeValley(zoneId) {
		return zoneId
	}
	offset := zoneId % 2000
	if offset < 1000 {
		return toontownCentral + offset
	}
	return goofySpeedway + offset - 1000
}

// trueZoneId maps a canonical zone back into the Welcome Valley block
// the client currently occupies. When the current zone is not
// instanced, zoneId passes through unchanged.
func trueZoneId(zoneId, currentZoneId uint32) uint32 {
	if !isWelcomeValley(currentZoneId) || zoneId != canonicalZoneId(zoneId) {
		return zoneId
	}
	block := currentZoneId - currentZoneId%2000
	switch {
	case zoneId >= toontownCentral && zoneId < toontownCentral+1000:
		return block + (zoneId - toontownCentral)
	case zoneId >= goofySpeedway && zoneId < goofySpeedway+1000:
		return block + 1000 + (zoneId - goofySpeedway)
	}
	return zoneId
}
