package signal

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"
)

// Simulated providers derive every verdict from a hash of the subject phone,
// so repeated checks of the same number are reproducible across runs. They
// stand in for the CAMARA-style network APIs (SIM swap, device location,
// KYC match, scam signal, device swap) in development and tests.

// NewSimulatedProviders returns one simulated provider per known name.
func NewSimulatedProviders() []Provider {
	return []Provider{
		&SimSwapProvider{},
		&DeviceLocationProvider{},
		&KYCMatchProvider{},
		&ScamSignalProvider{},
		&DeviceSwapProvider{},
	}
}

func seedFor(provider, phone string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(phone))
	return h.Sum64()
}

// unit maps a seed and salt onto [0, 1) deterministically.
func unit(seed uint64, salt uint64) float64 {
	h := fnv.New64a()
	var b [16]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(seed >> (8 * i))
		b[8+i] = byte(salt >> (8 * i))
	}
	h.Write(b[:])
	return float64(h.Sum64()%10000) / 10000
}

// SimSwapProvider reports whether the subject's SIM was recently swapped.
type SimSwapProvider struct{}

var _ Provider = (*SimSwapProvider)(nil)

func (p *SimSwapProvider) Name() string { return ProviderSimSwap }

func (p *SimSwapProvider) Check(ctx context.Context, req Request) (*Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, ConnectionError(err)
	}
	seed := seedFor(p.Name(), req.SubjectPhone)

	swapped := unit(seed, 1) > 0.7
	severity := 0.1 + unit(seed, 2)*0.2
	swapAge := 0
	if swapped {
		swapAge = 1 + int(unit(seed, 3)*72)
		// Fresher swaps are riskier.
		severity = 0.9 - float64(swapAge)/72*0.4
	}
	return &Verdict{
		Confidence: 0.8 + unit(seed, 4)*0.2,
		Severity:   severity,
		Evidence: map[string]any{
			"swapped":        swapped,
			"swap_age_hours": swapAge,
		},
	}, nil
}

// DeviceLocationProvider checks whether the device is where the subject
// usually is.
type DeviceLocationProvider struct{}

var _ Provider = (*DeviceLocationProvider)(nil)

func (p *DeviceLocationProvider) Name() string { return ProviderDeviceLocation }

func (p *DeviceLocationProvider) Check(ctx context.Context, req Request) (*Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, ConnectionError(err)
	}
	seed := seedFor(p.Name(), req.SubjectPhone)

	distanceKm := unit(seed, 1) * 2000
	abroad := distanceKm > 1500
	severity := distanceKm / 2000 * 0.6
	if abroad {
		severity += 0.3
	}
	if severity > 1 {
		severity = 1
	}
	return &Verdict{
		Confidence: 0.6 + unit(seed, 2)*0.35,
		Severity:   severity,
		Evidence: map[string]any{
			"distance_from_home_km": int(distanceKm),
			"out_of_country":        abroad,
		},
	}, nil
}

// KYCMatchProvider compares the subject's registered identity against
// carrier records.
type KYCMatchProvider struct{}

var _ Provider = (*KYCMatchProvider)(nil)

func (p *KYCMatchProvider) Name() string { return ProviderKYCMatch }

func (p *KYCMatchProvider) Check(ctx context.Context, req Request) (*Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, ConnectionError(err)
	}
	seed := seedFor(p.Name(), req.SubjectPhone)

	matchScore := 0.4 + unit(seed, 1)*0.6
	return &Verdict{
		Confidence: 0.9,
		Severity:   1 - matchScore,
		Evidence: map[string]any{
			"match_score":   matchScore,
			"name_match":    matchScore > 0.6,
			"address_match": matchScore > 0.8,
		},
	}, nil
}

// ScamSignalProvider checks the subject's communication pattern against
// known scam campaigns.
type ScamSignalProvider struct{}

var _ Provider = (*ScamSignalProvider)(nil)

func (p *ScamSignalProvider) Name() string { return ProviderScamSignal }

func (p *ScamSignalProvider) Check(ctx context.Context, req Request) (*Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, ConnectionError(err)
	}
	seed := seedFor(p.Name(), req.SubjectPhone)

	reportCount := int(unit(seed, 1) * 40)
	known := reportCount > 25
	severity := float64(reportCount) / 40
	return &Verdict{
		Confidence: 0.7 + unit(seed, 2)*0.3,
		Severity:   severity,
		Evidence: map[string]any{
			"known_scam_pattern": known,
			"report_count":       reportCount,
		},
	}, nil
}

// DeviceSwapProvider reports whether the subject recently moved their
// number to a new handset.
type DeviceSwapProvider struct{}

var _ Provider = (*DeviceSwapProvider)(nil)

func (p *DeviceSwapProvider) Name() string { return ProviderDeviceSwap }

func (p *DeviceSwapProvider) Check(ctx context.Context, req Request) (*Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, ConnectionError(err)
	}
	seed := seedFor(p.Name(), req.SubjectPhone)

	swapped := unit(seed, 1) > 0.6
	severity := 0.1
	ageDays := 0
	if swapped {
		ageDays = 1 + int(unit(seed, 2)*30)
		severity = 0.7 - float64(ageDays)/30*0.4
	}
	return &Verdict{
		Confidence: 0.75 + unit(seed, 3)*0.25,
		Severity:   severity,
		Evidence: map[string]any{
			"swapped":       swapped,
			"swap_age_days": ageDays,
		},
	}, nil
}

// FlakyProvider wraps another provider and fails deterministically based
// on the configured behavior. Used in tests and load demos.
type FlakyProvider struct {
	Inner Provider
	// Fail forces every call to return this error.
	Fail error
	// Delay stalls each call before delegating.
	Delay time.Duration
}

var _ Provider = (*FlakyProvider)(nil)

func (p *FlakyProvider) Name() string { return p.Inner.Name() }

func (p *FlakyProvider) Check(ctx context.Context, req Request) (*Verdict, error) {
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return nil, ConnectionError(fmt.Errorf("interrupted: %w", ctx.Err()))
		}
	}
	if p.Fail != nil {
		return nil, p.Fail
	}
	return p.Inner.Check(ctx, req)
}
