package emulator

import "sync"

// Patch keeps an uploaded identity in force against the NFC stack.
//
// While enabled, any set-config issued by the stack is passed through
// FilterSetConfig, which strips options the patch controls so they are
// not overwritten.  The stripped values are kept and handed back by
// Disable so the stack's own configuration can be restored.
type Patch struct {
	mu      sync.Mutex
	enabled bool
	hook    Config
	orig    Config
}

// Enable installs the options for id and returns them in wire form for
// the initial upload.
func (p *Patch) Enable(id Identity) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hook = IdentityConfig(id)
	p.enabled = true
	return p.hook.Build()
}

// Enabled reports whether an identity is installed.
func (p *Patch) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Hook returns the installed options.
func (p *Patch) Hook() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hook
}

// FilterSetConfig rewrites a stack-issued set-config.  Options whose
// type the patch controls are removed and saved; the rest is returned
// in wire form.
func (p *Patch) FilterSetConfig(tlv []byte) ([]byte, error) {
	in, err := ParseConfig(tlv)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var actual Config
	for _, opt := range in.Options() {
		if p.hook.Has(opt.Type) {
			p.orig.Set(opt)
			continue
		}
		actual.Add(opt)
	}
	return actual.Build(), nil
}

// Disable uninstalls the identity and returns the saved stack values
// for the options it had blocked.
func (p *Patch) Disable() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	orig := p.orig
	p.enabled = false
	p.hook = Config{}
	p.orig = Config{}
	return orig
}
