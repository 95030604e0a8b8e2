package servercfg

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/ini.v1"
)

var (
	// ErrMalformedLine is returned by [Parse] for a line that is neither a
	// comment, a section header nor a key/value pair.
	ErrMalformedLine = errors.New("malformed config line")
	// ErrNoDatapool is returned when a config names no datapool path.
	ErrNoDatapool = errors.New("config has no datapool setting")
)

// Values are the settings read back from a config file. Later duplicates
// win, matching how the server applies them.
type Values map[string]string

// Parse reads an INI-style config with a single implicit section. Keys are
// separated from values by ':' or '='. Lines starting with '#' or ';' are
// comments. "[section]" headers are accepted and their keys merged into the
// one namespace the server sees.
func Parse(data []byte) (Values, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		KeyValueDelimiters:  ":=",
		IgnoreInlineComment: true,
	}, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}

	vals := make(Values)

	for _, sec := range f.Sections() {
		for _, k := range sec.Keys() {
			vals[k.Name()] = k.Value()
		}
	}

	return vals, nil
}

// Server is the subset of server settings this tool reads back.
type Server struct {
	AdminPort      int    `mapstructure:"admin_port"`
	ServerPort     int    `mapstructure:"server_port"`
	Daemonize      bool   `mapstructure:"daemonize"`
	DebugLogFile   string `mapstructure:"debug_log_file"`
	SlabMem        int64  `mapstructure:"slab_mem"`
	SlabDatapool   string `mapstructure:"slab_datapool"`
	CuckooDatapool string `mapstructure:"cuckoo_datapool"`
}

// Datapool returns whichever datapool path is set.
func (s Server) Datapool() string {
	if s.SlabDatapool != "" {
		return s.SlabDatapool
	}

	return s.CuckooDatapool
}

// Decode fills out from v. Numeric and boolean strings are converted, with
// "yes"/"no" accepted for booleans.
func (v Values) Decode(out any) error {
	input := make(map[string]any, len(v))

	for k, val := range v {
		switch strings.ToLower(val) {
		case "yes":
			input[k] = true
		case "no":
			input[k] = false
		default:
			input[k] = val
		}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	return nil
}

// ParseServer parses data and decodes the known server settings.
func ParseServer(data []byte) (Server, error) {
	vals, err := Parse(data)
	if err != nil {
		return Server{}, err
	}

	var s Server
	if err := vals.Decode(&s); err != nil {
		return Server{}, err
	}

	return s, nil
}
