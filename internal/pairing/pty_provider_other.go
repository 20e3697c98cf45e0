//go:build !linux

package pairing

import (
	"context"
	"errors"

	"github.com/thedongcc/Tcom-sub002/internal/logging"
)

var errPtyPairsUnsupported = errors.New("pty pairs are not supported on this platform")

// PTYProvider is only available on Linux; other platforms use the exec
// provider.
type PTYProvider struct{}

var _ Provider = (*PTYProvider)(nil)

func NewPTYProvider(logger *logging.Logger) (*PTYProvider, error) {
	return nil, errPtyPairsUnsupported
}

func (p *PTYProvider) List(ctx context.Context) ([]PairInfo, error) {
	return nil, errPtyPairsUnsupported
}

func (p *PTYProvider) Create(ctx context.Context, portA, portB string) (PairInfo, error) {
	return PairInfo{}, errPtyPairsUnsupported
}

func (p *PTYProvider) Remove(ctx context.Context, pairID string) error {
	return errPtyPairsUnsupported
}

func (p *PTYProvider) Close() {}
