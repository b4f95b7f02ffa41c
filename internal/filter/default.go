package filter

import (
	"github.com/curtbushko/zoom-recording-downloader/internal/config"
	"github.com/curtbushko/zoom-recording-downloader/internal/glob"
)

// DefaultStrategyName is the class name of the glob include/exclude strategy
const DefaultStrategyName = "DefaultMeetingHelperStrategy"

func init() {
	Register(DefaultStrategyName, newDefaultFromConfig)
	Register("default", newDefaultFromConfig)
}

// axis holds the compiled rules for one attribute (email or topic)
type axis struct {
	include glob.Set
	exclude glob.Set
}

// allows applies include first, then exclude. An empty include list means
// everything is included.
func (a axis) allows(value string) bool {
	if len(a.include) > 0 && !a.include.MatchAny(value) {
		return false
	}
	return !a.exclude.MatchAny(value)
}

// Default selects meetings with glob include/exclude lists on the host
// email and the meeting topic. Both axes must pass.
type Default struct {
	emails axis
	topics axis
	format config.FilepathFormatConfig
}

// NewDefault compiles the rules in fc. A malformed pattern is a ConfigError.
func NewDefault(fc config.FilterConfig) (*Default, error) {
	d := &Default{}
	var err error
	compile := []struct {
		field string
		src   []string
		dst   *glob.Set
	}{
		{"Include.emails", fc.Include.Emails, &d.emails.include},
		{"Exclude.emails", fc.Exclude.Emails, &d.emails.exclude},
		{"Include.topics", fc.Include.Topics, &d.topics.include},
		{"Exclude.topics", fc.Exclude.Topics, &d.topics.exclude},
	}
	for _, c := range compile {
		if *c.dst, err = glob.CompileAll(c.src); err != nil {
			return nil, &config.ConfigError{Field: c.field, Reason: "malformed pattern", Err: err}
		}
	}
	return d, nil
}

func newDefaultFromConfig(cfg *config.Config) (MeetingFilter, error) {
	fc, err := cfg.EffectiveFilter()
	if err != nil {
		return nil, err
	}
	d, err := NewDefault(fc)
	if err != nil {
		return nil, err
	}
	if d.format, err = cfg.EffectiveFilepathFormat(); err != nil {
		return nil, err
	}
	return d, nil
}

// SelectUser applies only the email axis
func (d *Default) SelectUser(email string) bool {
	return d.emails.allows(email)
}

// SelectTopic applies only the topic axis
func (d *Default) SelectTopic(topic string) bool {
	return d.topics.allows(topic)
}

func (d *Default) Select(email, topic string) bool {
	return d.SelectUser(email) && d.SelectTopic(topic)
}

func (d *Default) FilepathFormat() config.FilepathFormatConfig {
	return d.format
}
