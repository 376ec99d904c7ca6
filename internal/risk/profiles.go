package risk

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProfileSource looks up a user's login baseline. Implementations are
// read-only after construction.
type ProfileSource interface {
	Lookup(username string) (Profile, bool)
}

// EmptyProfile is used for unknown users: no trusted IPs, every hour allowed,
// UTC. An unknown user can only score on the new-IP signal.
func EmptyProfile() Profile {
	return Profile{TrustedHours: [2]int{0, 24}, Timezone: "UTC"}
}

// StaticProfiles is an in-memory profile directory keyed by username.
type StaticProfiles map[string]Profile

// Lookup returns a copy of the user's profile with unset hours and timezone
// filled from EmptyProfile.
func (s StaticProfiles) Lookup(username string) (Profile, bool) {
	p, ok := s[username]
	if !ok {
		return Profile{}, false
	}
	cp := p
	cp.TrustedIPs = append([]string(nil), p.TrustedIPs...)
	cp.TrustedHours = p.Hours()
	if cp.Timezone == "" {
		cp.Timezone = "UTC"
	}
	return cp, true
}

// profileFile is the YAML layout:
//
//	profiles:
//	  admin:
//	    trusted_ips: [192.168.1.10, 203.91.45.112]
//	    trusted_hours: [7, 18]
//	    timezone: Africa/Nairobi
type profileFile struct {
	Profiles map[string]profileEntry `yaml:"profiles"`
}

type profileEntry struct {
	TrustedIPs   []string `yaml:"trusted_ips"`
	TrustedHours []int    `yaml:"trusted_hours"`
	Timezone     string   `yaml:"timezone"`
}

// LoadProfiles reads a YAML profile directory from path.
func LoadProfiles(path string) (StaticProfiles, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("%w: read profiles: %v", ErrConfiguration, err)
	}
	return ParseProfiles(bytes.NewReader(data))
}

// ParseProfiles decodes and validates a YAML profile directory. Missing
// hours default to [0, 24] and a missing timezone to UTC.
func ParseProfiles(r io.Reader) (StaticProfiles, error) {
	var f profileFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: decode profiles: %v", ErrConfiguration, err)
	}

	out := make(StaticProfiles, len(f.Profiles))
	for name, e := range f.Profiles {
		p, err := e.toProfile()
		if err != nil {
			return nil, fmt.Errorf("%w: profile %q: %v", ErrConfiguration, name, err)
		}
		out[strings.TrimSpace(name)] = p
	}
	return out, nil
}

func (e profileEntry) toProfile() (Profile, error) {
	p := EmptyProfile()
	p.TrustedIPs = e.TrustedIPs

	switch len(e.TrustedHours) {
	case 0:
	case 2:
		start, end := e.TrustedHours[0], e.TrustedHours[1]
		if start < 0 || end > 24 || start > end {
			return Profile{}, fmt.Errorf("trusted_hours %v out of range", e.TrustedHours)
		}
		if start == 0 && end == 0 {
			return Profile{}, fmt.Errorf("trusted_hours [0, 0] reads as unset; omit it to allow every hour")
		}
		p.TrustedHours = [2]int{start, end}
	default:
		return Profile{}, fmt.Errorf("trusted_hours needs exactly two values, got %d", len(e.TrustedHours))
	}

	if e.Timezone != "" {
		if _, err := time.LoadLocation(e.Timezone); err != nil {
			return Profile{}, fmt.Errorf("unknown timezone %q", e.Timezone)
		}
		p.Timezone = e.Timezone
	}
	return p, nil
}
