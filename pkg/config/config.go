// Package config loads LinkParams defaults from an .ini-style link
// configuration file, the SCL analogue of the teacher's EDS (.ini-backed
// object dictionary) loader in pkg/od/parser.go.
package config

import (
	"time"

	"gopkg.in/ini.v1"

	"github.com/dtnproto/scl/pkg/clparams"
)

// Section is the .ini section name this loader reads from, e.g.:
//
//	[link]
//	segment_ack_enabled = true
//	reactive_frag_enabled = false
//	keepalive_interval = 10
//	segment_length = 4096
//	data_timeout = 30
//	idle_close_time = 0
//	on_demand = false
const Section = "link"

// LoadLinkParams reads LinkParams from an .ini file path, []byte, or
// io.Reader (anything ini.Load accepts), overlaying values found in
// Section onto clparams.Default().
func LoadLinkParams(source any) (clparams.LinkParams, error) {
	params := clparams.Default()

	file, err := ini.Load(source)
	if err != nil {
		return params, err
	}

	if !file.HasSection(Section) {
		return params, nil
	}
	section := file.Section(Section)

	if key, ok := lookup(section, "segment_ack_enabled"); ok {
		params.SegmentAckEnabled = key.MustBool(params.SegmentAckEnabled)
	}
	if key, ok := lookup(section, "reactive_frag_enabled"); ok {
		params.ReactiveFragEnabled = key.MustBool(params.ReactiveFragEnabled)
	}
	if key, ok := lookup(section, "keepalive_interval"); ok {
		params.KeepaliveInterval = time.Duration(key.MustInt(int(params.KeepaliveInterval/time.Second))) * time.Second
	}
	if key, ok := lookup(section, "segment_length"); ok {
		params.SegmentLength = uint32(key.MustInt(int(params.SegmentLength)))
	}
	if key, ok := lookup(section, "data_timeout"); ok {
		params.DataTimeout = time.Duration(key.MustInt(int(params.DataTimeout/time.Second))) * time.Second
	}
	if key, ok := lookup(section, "idle_close_time"); ok {
		params.IdleCloseTime = time.Duration(key.MustInt(int(params.IdleCloseTime/time.Second))) * time.Second
	}
	if key, ok := lookup(section, "on_demand"); ok {
		params.OnDemand = key.MustBool(params.OnDemand)
	}

	return params, nil
}

func lookup(section *ini.Section, name string) (*ini.Key, bool) {
	if !section.HasKey(name) {
		return nil, false
	}
	return section.Key(name), true
}
