// Package wifi defines the capability interface the local-layer engine
// uses to inspect and change the radio channel during bridge discovery.
package wifi

// ChannelRestrictions describes the inclusive channel range a station may
// scan or operate on.
type ChannelRestrictions struct {
	Low  int
	High int
}

// Station abstracts the platform's WiFi station capability.
type Station interface {
	GetChannel() (int, error)
	SetChannel(ch int) error
	ChannelRestrictions() ChannelRestrictions
}

// Dummy is a software-only Station for use with the loopback driver
// adapter in tests and demonstrations: it has no real radio, so it simply
// records the requested channel.
type Dummy struct {
	restrictions ChannelRestrictions
	channel      int
}

// NewDummy creates a Dummy with the given channel restrictions, starting
// on the low channel.
func NewDummy(r ChannelRestrictions) *Dummy {
	return &Dummy{restrictions: r, channel: r.Low}
}

func (d *Dummy) GetChannel() (int, error) { return d.channel, nil }

func (d *Dummy) SetChannel(ch int) error {
	d.channel = ch
	return nil
}

func (d *Dummy) ChannelRestrictions() ChannelRestrictions {
	return d.restrictions
}
