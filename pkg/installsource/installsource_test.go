package installsource

import (
	"testing"

	. "github.com/flynn/go-check"
)

func Test(t *testing.T) { TestingT(t) }

type SourceSuite struct{}

var _ = Suite(&SourceSuite{})

func (SourceSuite) TestSaveLoad(c *C) {
	dir := c.MkDir()
	c.Assert(Exists(dir), Equals, false)
	_, err := Load(dir)
	c.Assert(err, NotNil)

	rec := New(SourceOfficial, "mongodb-org", "apt", "7.0.12")
	c.Assert(Save(dir, rec), IsNil)
	c.Assert(Exists(dir), Equals, true)

	loaded, err := Load(dir)
	c.Assert(err, IsNil)
	c.Assert(loaded.Version, Equals, "7.0.12")
	c.Assert(loaded.Manager, Equals, "apt")
	c.Assert(loaded.InstalledAt.Equal(rec.InstalledAt), Equals, true)
	c.Assert(loaded.Matches(SourceOfficial, "mongodb-org"), Equals, true)
	c.Assert(loaded.Matches(SourceDistro, "mongodb-org"), Equals, false)
}

func (SourceSuite) TestDefaultPath(c *C) {
	c.Assert(GetSourceFilePath(""), Equals, "/var/lib/mongorole/install-source.json")
}
