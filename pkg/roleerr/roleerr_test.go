package roleerr

import (
	"testing"

	. "github.com/flynn/go-check"
	"github.com/pkg/errors"
)

func Test(t *testing.T) { TestingT(t) }

type RoleErrSuite struct{}

var _ = Suite(&RoleErrSuite{})

func (RoleErrSuite) TestKindSurvivesWrapping(c *C) {
	err := errors.Wrap(Apply("package/mongodb-org", errors.New("apt-get exited 100")), "stage package")
	c.Assert(IsApply(err), Equals, true)
	c.Assert(IsConfig(err), Equals, false)
	c.Assert(errors.Cause(err).Error(), Equals, "apt-get exited 100")
}

func (RoleErrSuite) TestMessage(c *C) {
	err := Config("storage.engine", "engine %q is not supported by %s", "mmapv1", "4.2")
	c.Assert(err, ErrorMatches, `ConfigError: storage.engine: engine "mmapv1" is not supported by 4.2`)
	c.Assert(KindOf(err), Equals, KindConfig)
}

func (RoleErrSuite) TestUnclassified(c *C) {
	c.Assert(KindOf(errors.New("plain")), Equals, Kind(""))
	c.Assert(KindOf(nil), Equals, Kind(""))
}
