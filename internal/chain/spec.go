package chain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Stage and option names understood by the chain engine.
const (
	StageTranscode = "transcode"
	StageHTTP      = "http"

	OptAudioCodec   = "acodec"
	OptAudioEncoder = "aenc"
	OptVideoCodec   = "vcodec"
	OptVideoEncoder = "venc"
	OptMaxHeight    = "maxheight"
	OptDst          = "dst"
	OptMux          = "mux"
	OptAccess       = "access"
	OptMIME         = "mime"
	OptCodec        = "codec"

	// MuxMP4Stream is a fragmented MP4 suitable for progressive HTTP delivery.
	MuxMP4Stream = "mp4stream"
	// MIMEVideoMP4 is advertised by the access layer for MuxMP4Stream.
	MIMEVideoMP4 = "video/mp4"
)

// ErrInvalidSpec is returned when a chain description cannot be parsed.
var ErrInvalidSpec = errors.New("invalid chain spec")

// Option is one key=value pair of a stage. When Sub is set the value is a
// nested stage, e.g. aenc=avcodec{codec=aac}.
type Option struct {
	Key   string
	Value string
	Sub   *Stage
}

// Stage is one element of a chain, e.g. transcode{...} or http{...}.
type Stage struct {
	Name    string
	Options []Option
}

// NewStage creates an empty stage.
func NewStage(name string) *Stage {
	return &Stage{Name: name}
}

// Set adds or replaces a plain option.
func (s *Stage) Set(key, value string) *Stage {
	return s.put(Option{Key: key, Value: value})
}

// SetInt adds or replaces an integer option.
func (s *Stage) SetInt(key string, value int) *Stage {
	return s.Set(key, strconv.Itoa(value))
}

// SetSub adds or replaces an option whose value is a nested stage.
func (s *Stage) SetSub(key string, sub *Stage) *Stage {
	return s.put(Option{Key: key, Sub: sub})
}

func (s *Stage) put(opt Option) *Stage {
	for i := range s.Options {
		if s.Options[i].Key == opt.Key {
			s.Options[i] = opt
			return s
		}
	}
	s.Options = append(s.Options, opt)
	return s
}

// Get returns the option named key.
func (s *Stage) Get(key string) (Option, bool) {
	for _, o := range s.Options {
		if o.Key == key {
			return o, true
		}
	}
	return Option{}, false
}

// Value returns the plain value of key, or "" when absent or nested.
func (s *Stage) Value(key string) string {
	o, ok := s.Get(key)
	if !ok || o.Sub != nil {
		return ""
	}
	return o.Value
}

// Sub returns the nested stage of key, or nil.
func (s *Stage) Sub(key string) *Stage {
	o, ok := s.Get(key)
	if !ok {
		return nil
	}
	return o.Sub
}

// String renders the stage as name{k=v,...}.
func (s *Stage) String() string {
	var b strings.Builder
	s.write(&b)
	return b.String()
}

func (s *Stage) write(b *strings.Builder) {
	b.WriteString(s.Name)
	b.WriteByte('{')
	for i, o := range s.Options {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(o.Key)
		if o.Sub != nil {
			b.WriteByte('=')
			o.Sub.write(b)
			continue
		}
		if o.Value != "" {
			b.WriteByte('=')
			b.WriteString(quoteValue(o.Value))
		}
	}
	b.WriteByte('}')
}

func quoteValue(v string) string {
	if !strings.ContainsAny(v, ",{}\"") {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
}

// Spec is a declarative chain description: stages joined by ':'.
type Spec struct {
	Stages []*Stage
}

// Stage returns the first stage with the given name.
func (s Spec) Stage(name string) (*Stage, bool) {
	for _, st := range s.Stages {
		if st.Name == name {
			return st, true
		}
	}
	return nil, false
}

// String renders the textual chain description.
func (s Spec) String() string {
	var b strings.Builder
	for i, st := range s.Stages {
		if i > 0 {
			b.WriteByte(':')
		}
		st.write(&b)
	}
	return b.String()
}

// Builder assembles a Spec with a fluent API.
type Builder struct {
	stages []*Stage
}

// NewBuilder creates an empty chain builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Stage appends a stage and returns it for option setting.
func (b *Builder) Stage(name string) *Stage {
	st := NewStage(name)
	b.stages = append(b.stages, st)
	return st
}

// Publish appends the HTTP publishing stage.
func (b *Builder) Publish(t PublishTarget) *Builder {
	b.Stage(StageHTTP).
		Set(OptDst, fmt.Sprintf(":%d%s", t.Port, t.Path)).
		Set(OptMux, t.Mux).
		SetSub(OptAccess, NewStage(StageHTTP).Set(OptMIME, t.MIME))
	return b
}

// Build returns the assembled Spec.
func (b *Builder) Build() Spec {
	return Spec{Stages: b.stages}
}

// PublishTarget is what the publishing stage declares.
type PublishTarget struct {
	Host string
	Port int
	Path string
	Mux  string
	MIME string
}

// Publish extracts the publishing target from the http stage.
func (s Spec) Publish() (PublishTarget, error) {
	st, ok := s.Stage(StageHTTP)
	if !ok {
		return PublishTarget{}, fmt.Errorf("%w: no %s stage", ErrInvalidSpec, StageHTTP)
	}

	dst := st.Value(OptDst)
	slash := strings.IndexByte(dst, '/')
	if slash < 0 {
		return PublishTarget{}, fmt.Errorf("%w: dst %q has no path", ErrInvalidSpec, dst)
	}
	hostPort, path := dst[:slash], dst[slash:]
	colon := strings.LastIndexByte(hostPort, ':')
	if colon < 0 {
		return PublishTarget{}, fmt.Errorf("%w: dst %q has no port", ErrInvalidSpec, dst)
	}
	port, err := strconv.Atoi(hostPort[colon+1:])
	if err != nil || port < 1 || port > 65535 {
		return PublishTarget{}, fmt.Errorf("%w: dst %q has an invalid port", ErrInvalidSpec, dst)
	}

	t := PublishTarget{
		Host: hostPort[:colon],
		Port: port,
		Path: path,
		Mux:  st.Value(OptMux),
	}
	if access := st.Sub(OptAccess); access != nil {
		t.MIME = access.Value(OptMIME)
	}
	return t, nil
}

// Conversion is what the transcode stage asks for. Empty codecs mean the
// category passes through unchanged.
type Conversion struct {
	AudioCodec   string
	AudioEncoder *Stage
	VideoCodec   string
	VideoEncoder *Stage
	MaxHeight    int
}

// Conversion extracts the transcode stage, reporting false when the chain
// only remuxes.
func (s Spec) Conversion() (Conversion, bool, error) {
	st, ok := s.Stage(StageTranscode)
	if !ok {
		return Conversion{}, false, nil
	}
	c := Conversion{
		AudioCodec:   st.Value(OptAudioCodec),
		AudioEncoder: st.Sub(OptAudioEncoder),
		VideoCodec:   st.Value(OptVideoCodec),
		VideoEncoder: st.Sub(OptVideoEncoder),
	}
	if mh := st.Value(OptMaxHeight); mh != "" {
		h, err := strconv.Atoi(mh)
		if err != nil {
			return Conversion{}, false, fmt.Errorf("%w: %s=%q", ErrInvalidSpec, OptMaxHeight, mh)
		}
		c.MaxHeight = h
	}
	return c, true, nil
}

// Parse reads a textual chain description produced by Spec.String.
func Parse(text string) (Spec, error) {
	p := &parser{in: text}
	var spec Spec
	for {
		st, err := p.stage()
		if err != nil {
			return Spec{}, err
		}
		spec.Stages = append(spec.Stages, st)
		if p.eof() {
			return spec, nil
		}
		if !p.consume(':') {
			return Spec{}, p.errorf("expected ':' between stages")
		}
	}
}

type parser struct {
	in  string
	pos int
}

func (p *parser) eof() bool { return p.pos >= len(p.in) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.in[p.pos]
}

func (p *parser) consume(c byte) bool {
	if p.peek() == c && !p.eof() {
		p.pos++
		return true
	}
	return false
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at offset %d: %s", ErrInvalidSpec, p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) ident() string {
	start := p.pos
	for !p.eof() {
		c := p.peek()
		if c == '{' || c == '}' || c == ',' || c == '=' || c == ':' {
			break
		}
		p.pos++
	}
	return strings.TrimSpace(p.in[start:p.pos])
}

func (p *parser) stage() (*Stage, error) {
	name := p.ident()
	if name == "" {
		return nil, p.errorf("expected stage name")
	}
	st := NewStage(name)
	if !p.consume('{') {
		return st, nil
	}
	for {
		if p.consume('}') {
			return st, nil
		}
		if p.eof() {
			return nil, p.errorf("unterminated stage %q", name)
		}
		key := p.ident()
		if key == "" {
			// tolerate trailing or doubled commas
			if p.consume(',') {
				continue
			}
			return nil, p.errorf("expected option name in %q", name)
		}
		opt := Option{Key: key}
		if p.consume('=') {
			if err := p.optionValue(&opt); err != nil {
				return nil, err
			}
		}
		st.Options = append(st.Options, opt)
		if !p.consume(',') && p.peek() != '}' {
			return nil, p.errorf("expected ',' or '}' after option %q", key)
		}
	}
}

func (p *parser) optionValue(opt *Option) error {
	if p.peek() == '"' {
		v, err := p.quoted()
		if err != nil {
			return err
		}
		opt.Value = v
		return nil
	}

	// A value is a nested stage when an identifier is followed by '{'.
	start := p.pos
	name := p.ident()
	if name != "" && p.peek() == '{' {
		p.pos = start
		sub, err := p.stage()
		if err != nil {
			return err
		}
		opt.Sub = sub
		return nil
	}

	// Plain values may contain ':' (e.g. dst=:8080/path); stop at ',' or '}'.
	p.pos = start
	for !p.eof() && p.peek() != ',' && p.peek() != '}' {
		p.pos++
	}
	opt.Value = strings.TrimSpace(p.in[start:p.pos])
	return nil
}

func (p *parser) quoted() (string, error) {
	p.pos++ // opening quote
	var b strings.Builder
	for !p.eof() {
		c := p.in[p.pos]
		p.pos++
		switch {
		case c == '\\' && p.peek() == '"':
			b.WriteByte('"')
			p.pos++
		case c == '"':
			return b.String(), nil
		default:
			b.WriteByte(c)
		}
	}
	return "", p.errorf("unterminated quoted value")
}
