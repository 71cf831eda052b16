package gameroom

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the tunables of a match. Deployments differ only in these values.
type Config struct {
	WinThreshold int
	MaxRounds    int

	// DepositDeadline starts when both players are attached.
	DepositDeadline time.Duration
	// ChallengerDepositWindow applies to rooms opened from an accepted offer.
	ChallengerDepositWindow time.Duration

	CountdownSeconds int
	CountdownStep    time.Duration

	ChoiceDeadline time.Duration
	PowerDeadline  time.Duration
	// AutoPower fills a charge the player never submitted.
	AutoPower float64

	ForfeitGrace       time.Duration
	FlipAnimationDelay time.Duration
	ResultDisplayDelay time.Duration

	// TerminalGrace is how long a finished room stays reachable without reconnects.
	TerminalGrace time.Duration
	// AbandonAfter closes a room nobody is attached to before play starts.
	AbandonAfter time.Duration

	InboxSize int
}

func DefaultConfig() Config {
	return Config{
		WinThreshold:            3,
		MaxRounds:               5,
		DepositDeadline:         120 * time.Second,
		ChallengerDepositWindow: 120 * time.Second,
		CountdownSeconds:        3,
		CountdownStep:           time.Second,
		ChoiceDeadline:          30 * time.Second,
		PowerDeadline:           20 * time.Second,
		AutoPower:               1,
		ForfeitGrace:            30 * time.Second,
		FlipAnimationDelay:      3 * time.Second,
		ResultDisplayDelay:      3 * time.Second,
		TerminalGrace:           15 * time.Second,
		AbandonAfter:            10 * time.Minute,
		InboxSize:               64,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.WinThreshold <= 0 {
		errs = append(errs, fmt.Errorf("win threshold must be positive, got %d", c.WinThreshold))
	}
	if c.MaxRounds <= 0 {
		errs = append(errs, fmt.Errorf("max rounds must be positive, got %d", c.MaxRounds))
	}
	if c.WinThreshold > c.MaxRounds {
		errs = append(errs, fmt.Errorf("win threshold %d can never be reached in %d rounds", c.WinThreshold, c.MaxRounds))
	}
	if c.CountdownSeconds < 0 {
		errs = append(errs, errors.New("countdown seconds must not be negative"))
	}
	if c.AutoPower <= 0 || c.AutoPower > 100 {
		errs = append(errs, fmt.Errorf("auto power must be in (0,100], got %v", c.AutoPower))
	}
	if c.InboxSize <= 0 {
		errs = append(errs, errors.New("inbox size must be positive"))
	}
	durations := map[string]time.Duration{
		"deposit deadline":          c.DepositDeadline,
		"challenger deposit window": c.ChallengerDepositWindow,
		"countdown step":            c.CountdownStep,
		"choice deadline":           c.ChoiceDeadline,
		"power deadline":            c.PowerDeadline,
		"forfeit grace":             c.ForfeitGrace,
		"terminal grace":            c.TerminalGrace,
		"abandon after":             c.AbandonAfter,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.FlipAnimationDelay < 0 || c.ResultDisplayDelay < 0 {
		errs = append(errs, errors.New("display delays must not be negative"))
	}
	return errors.Join(errs...)
}
