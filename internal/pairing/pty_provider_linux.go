//go:build linux

package pairing

import (
	"context"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/thedongcc/Tcom-sub002/internal/fault"
	"github.com/thedongcc/Tcom-sub002/internal/logging"
)

// PTYProvider allocates in-process pseudo-terminal pairs and bridges them,
// standing in for the external pairing tool during development. Each pair is
// two pty slaves whose masters mirror traffic both ways; requested port
// names are advisory since the kernel assigns pts paths.
type PTYProvider struct {
	mu     sync.Mutex
	pairs  map[string]*ptyBridge
	nextID int
	logger *logging.Logger
}

type ptyBridge struct {
	info PairInfo
	// masters carry the bridge; slaves stay open so reads do not fail
	// before an application opens the pts path.
	masterA, slaveA *os.File
	masterB, slaveB *os.File
}

var _ Provider = (*PTYProvider)(nil)

func NewPTYProvider(logger *logging.Logger) (*PTYProvider, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	return &PTYProvider{
		pairs:  make(map[string]*ptyBridge),
		logger: logger,
	}, nil
}

func (p *PTYProvider) List(ctx context.Context) ([]PairInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pairs := make([]PairInfo, 0, len(p.pairs))
	for _, bridge := range p.pairs {
		pairs = append(pairs, bridge.info)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].ID < pairs[j].ID })
	return pairs, nil
}

func (p *PTYProvider) Create(ctx context.Context, portA, portB string) (PairInfo, error) {
	masterA, slaveA, err := pty.Open()
	if err != nil {
		return PairInfo{}, fault.Transport(err, "open pty")
	}
	masterB, slaveB, err := pty.Open()
	if err != nil {
		closeAll(masterA, slaveA)
		return PairInfo{}, fault.Transport(err, "open pty")
	}
	for _, end := range []*os.File{masterA, masterB} {
		if err := makeRaw(end); err != nil {
			closeAll(masterA, slaveA, masterB, slaveB)
			return PairInfo{}, fault.Transport(err, "set raw mode")
		}
	}

	p.mu.Lock()
	id := strconv.Itoa(p.nextID)
	p.nextID++
	bridge := &ptyBridge{
		info: PairInfo{
			ID:    id,
			PortA: slaveA.Name(),
			PortB: slaveB.Name(),
		},
		masterA: masterA,
		slaveA:  slaveA,
		masterB: masterB,
		slaveB:  slaveB,
	}
	p.pairs[id] = bridge
	p.mu.Unlock()

	go p.copyLoop(id, masterA, masterB)
	go p.copyLoop(id, masterB, masterA)

	p.logger.Debug("pty pair created", map[string]string{
		"pair":  id,
		"portA": bridge.info.PortA,
		"portB": bridge.info.PortB,
	})
	return bridge.info, nil
}

func (p *PTYProvider) Remove(ctx context.Context, pairID string) error {
	p.mu.Lock()
	bridge, ok := p.pairs[pairID]
	if ok {
		delete(p.pairs, pairID)
	}
	p.mu.Unlock()
	if !ok {
		return fault.Configf("pair %s does not exist", pairID)
	}
	closeAll(bridge.masterA, bridge.slaveA, bridge.masterB, bridge.slaveB)
	p.logger.Debug("pty pair removed", map[string]string{"pair": pairID})
	return nil
}

// Close removes every pair the provider created.
func (p *PTYProvider) Close() {
	p.mu.Lock()
	bridges := make([]*ptyBridge, 0, len(p.pairs))
	for id, bridge := range p.pairs {
		bridges = append(bridges, bridge)
		delete(p.pairs, id)
	}
	p.mu.Unlock()
	for _, bridge := range bridges {
		closeAll(bridge.masterA, bridge.slaveA, bridge.masterB, bridge.slaveB)
	}
}

func (p *PTYProvider) copyLoop(id string, src, dst *os.File) {
	if _, err := io.Copy(dst, src); err != nil {
		p.logger.Debug("pty bridge stopped", map[string]string{
			"pair":  id,
			"error": err.Error(),
		})
	}
}

func closeAll(files ...*os.File) {
	for _, file := range files {
		if file != nil {
			_ = file.Close()
		}
	}
}

// makeRaw disables the line discipline so bridged bytes pass unmodified.
func makeRaw(file *os.File) error {
	fd := int(file.Fd())
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0
	return unix.IoctlSetTermios(fd, unix.TCSETS, termios)
}
