package config

import "time"

// LaneConfig holds the business-rule deadlines of the check-in flow.
type LaneConfig struct {
	StayDuration       time.Duration // length of an initial check-in block
	RenewalWindow      time.Duration // renewal allowed only this close to the current checkout
	OfferTTL           time.Duration // how long a waitlist room hold stays OFFERED
	OfferSweepInterval time.Duration // how often lapsed offers are expired
}

// LoadLaneConfig reads lane rule settings, falling back to defaults.
func LoadLaneConfig() LaneConfig {
	cfg := LaneConfig{
		StayDuration:       envDur("STAY_DURATION", 6*time.Hour),
		RenewalWindow:      envDur("RENEWAL_WINDOW", time.Hour),
		OfferTTL:           envDur("OFFER_TTL", 15*time.Minute),
		OfferSweepInterval: envDur("OFFER_SWEEP_INTERVAL", 30*time.Second),
	}
	if cfg.StayDuration <= 0 {
		cfg.StayDuration = 6 * time.Hour
	}
	if cfg.OfferSweepInterval <= 0 {
		cfg.OfferSweepInterval = 30 * time.Second
	}
	return cfg
}
