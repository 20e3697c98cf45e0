// Package ports enumerates serial ports for the API, merging OS entries
// with synthesized entries for known virtual pairs and marking paths held
// by connected sessions.
package ports

import (
	"sort"

	"go.bug.st/serial/enumerator"

	"github.com/thedongcc/Tcom-sub002/internal/fault"
	"github.com/thedongcc/Tcom-sub002/internal/pairing"
)

// listDetailedPorts is swapped by tests to avoid touching the OS.
var listDetailedPorts = func() ([]*enumerator.PortDetails, error) {
	return enumerator.GetDetailedPortsList()
}

type PortInfo struct {
	Path         string `json:"path"`
	FriendlyName string `json:"friendlyName,omitempty"`
	// Manufacturer carries the USB vendor:product identifier when the port
	// is USB-attached; the OS listing exposes no vendor name.
	Manufacturer string `json:"manufacturer,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Virtual      bool   `json:"virtual,omitempty"`
	Busy         bool   `json:"busy,omitempty"`
}

type ListOptions struct {
	// Pairs adds entries for virtual pair endpoints the OS listing misses
	// and flags the ones it has.
	Pairs []pairing.PairInfo
	// BusyPaths marks ports held by connected sessions.
	BusyPaths map[string]bool
}

// List returns the merged port inventory, sorted by path.
func List(options ListOptions) ([]PortInfo, error) {
	details, err := listDetailedPorts()
	if err != nil {
		return nil, fault.Transport(err, "list ports")
	}

	index := make(map[string]int, len(details))
	infos := make([]PortInfo, 0, len(details)+2*len(options.Pairs))
	for _, detail := range details {
		if detail == nil || detail.Name == "" {
			continue
		}
		info := PortInfo{
			Path:         detail.Name,
			FriendlyName: detail.Product,
			SerialNumber: detail.SerialNumber,
		}
		if detail.IsUSB && detail.VID != "" {
			info.Manufacturer = detail.VID + ":" + detail.PID
		}
		index[info.Path] = len(infos)
		infos = append(infos, info)
	}

	for _, pair := range options.Pairs {
		ends := [2][2]string{{pair.PortA, pair.PortB}, {pair.PortB, pair.PortA}}
		for _, end := range ends {
			path, other := end[0], end[1]
			if path == "" {
				continue
			}
			if i, ok := index[path]; ok {
				infos[i].Virtual = true
				continue
			}
			index[path] = len(infos)
			infos = append(infos, PortInfo{
				Path:         path,
				FriendlyName: "virtual pair with " + other,
				Virtual:      true,
			})
		}
	}

	for i := range infos {
		if options.BusyPaths[infos[i].Path] {
			infos[i].Busy = true
		}
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

// Paths returns just the present port paths, for pair validation.
func Paths() ([]string, error) {
	details, err := listDetailedPorts()
	if err != nil {
		return nil, fault.Transport(err, "list ports")
	}
	paths := make([]string, 0, len(details))
	for _, detail := range details {
		if detail != nil && detail.Name != "" {
			paths = append(paths, detail.Name)
		}
	}
	return paths, nil
}
