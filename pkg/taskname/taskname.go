package taskname

const (
	// Advertisement tasks
	AdsExpireLeftover = "ads:expire:leftover"

	// Challenge tasks
	ChallengeSweepStale = "challenge:sweep:stale"
)
