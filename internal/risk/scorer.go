package risk

import (
	"fmt"
	"time"
)

// BiometricScorer turns an entry signal into a biometric score. Replace the
// default rules with a model by implementing this interface.
type BiometricScorer interface {
	ScoreBiometric(sig BiometricSignal) (BiometricDetail, error)
}

// ContextScorer scores a login against the user's profile.
type ContextScorer interface {
	ScoreContext(p Profile, clientIP string, loginTime time.Time) (ContextDetail, error)
}

// BiometricFunc adapts a function to BiometricScorer.
type BiometricFunc func(sig BiometricSignal) (BiometricDetail, error)

func (f BiometricFunc) ScoreBiometric(sig BiometricSignal) (BiometricDetail, error) { return f(sig) }

// ContextFunc adapts a function to ContextScorer.
type ContextFunc func(p Profile, clientIP string, loginTime time.Time) (ContextDetail, error)

func (f ContextFunc) ScoreContext(p Profile, clientIP string, loginTime time.Time) (ContextDetail, error) {
	return f(p, clientIP, loginTime)
}

// PasteRules is the default BiometricScorer.
type PasteRules struct{}

func (PasteRules) ScoreBiometric(sig BiometricSignal) (BiometricDetail, error) {
	if sig.UsernameDurationMS < 0 || sig.UsernameLength < 0 ||
		sig.PasswordDurationMS < 0 || sig.PasswordLength < 0 {
		return BiometricDetail{}, fmt.Errorf("%w: negative biometric duration or length", ErrMalformedInput)
	}

	d := BiometricDetail{
		UsernamePasted: pasted(sig.UsernamePasted, sig.UsernameDurationMS, sig.UsernameLength),
		PasswordPasted: pasted(sig.PasswordPasted, sig.PasswordDurationMS, sig.PasswordLength),
	}
	if d.PasswordPasted {
		d.Score += PasswordPasteScore
	}
	if d.UsernamePasted {
		d.Score += UsernamePasteScore
	}
	d.Tier = tierFor(d.Score, BiometricHighThreshold, BiometricMediumThreshold)
	return d, nil
}

// pasted uses the reported flag when present, otherwise infers a paste from
// entry speed. Without a duration and a length nothing can be inferred.
func pasted(flag *bool, durationMS, length int) bool {
	if flag != nil {
		return *flag
	}
	if durationMS <= 0 || length <= 0 {
		return false
	}
	// durationMS/length < PasteMSPerChar, kept in integers.
	return durationMS < PasteMSPerChar*length
}

// ProfileRules is the default ContextScorer.
type ProfileRules struct{}

func (ProfileRules) ScoreContext(p Profile, clientIP string, loginTime time.Time) (ContextDetail, error) {
	tzName := p.Timezone
	if tzName == "" {
		tzName = "UTC"
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return ContextDetail{}, fmt.Errorf("%w: unknown timezone %q", ErrConfiguration, tzName)
	}

	hour := loginTime.In(loc).Hour()
	hours := p.Hours()
	d := ContextDetail{
		NewIP:       !trusted(p.TrustedIPs, clientIP),
		UnusualTime: hour < hours[0] || hour > hours[1],
		LocalHour:   hour,
		Timezone:    tzName,
	}
	if d.NewIP {
		d.Score += NewIPScore
	}
	if d.UnusualTime {
		d.Score += UnusualTimeScore
	}
	d.Tier = tierFor(d.Score, ContextHighThreshold, ContextMediumThreshold)
	return d, nil
}

func trusted(ips []string, ip string) bool {
	for _, t := range ips {
		if t == ip {
			return true
		}
	}
	return false
}
