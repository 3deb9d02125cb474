package models

import "math"

// LevelForXP returns floor(sqrt(xp)). Negative xp is level 0.
func LevelForXP(xp int) int {
	if xp <= 0 {
		return 0
	}
	l := int(math.Sqrt(float64(xp)))
	for l*l > xp {
		l--
	}
	for (l+1)*(l+1) <= xp {
		l++
	}
	return l
}
