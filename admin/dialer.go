package admin

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io/ioutil"
	"time"

	"github.com/flynn/mongorole/config"
	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultOpTimeout      = 30 * time.Second
)

// Dialer connects to mongod with the official driver. Every connection is
// direct, so commands reach the addressed member even when it is not
// primary.
type Dialer struct {
	ConnectTimeout time.Duration
	OpTimeout      time.Duration
	Logger         log15.Logger
}

// NewDialer returns a Dialer with default timeouts.
func NewDialer(logger log15.Logger) *Dialer {
	return &Dialer{
		ConnectTimeout: DefaultConnectTimeout,
		OpTimeout:      DefaultOpTimeout,
		Logger:         logger,
	}
}

// ConnectionURI returns the URI for t without credentials.
func ConnectionURI(t Target) string {
	return fmt.Sprintf("mongodb://%s/?directConnection=true", t.Addr())
}

func (d *Dialer) Connect(ctx context.Context, t Target) (Admin, error) {
	opts := options.Client().
		ApplyURI(ConnectionURI(t)).
		SetConnectTimeout(d.ConnectTimeout).
		SetServerSelectionTimeout(d.ConnectTimeout)
	if t.Credential != nil {
		source := t.Credential.Source
		if source == "" {
			source = "admin"
		}
		opts.SetAuth(options.Credential{
			Username:   t.Credential.Username,
			Password:   t.Credential.Password,
			AuthSource: source,
		})
	}
	if t.TLS != nil {
		tlsConfig, err := TLSConfig(t.TLS)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, classify(t.Addr(), err)
	}
	logger := d.Logger
	if logger == nil {
		logger = log15.New()
		logger.SetHandler(log15.DiscardHandler())
	}
	user := ""
	if t.Credential != nil {
		user = t.Credential.Username
	}
	return &session{
		client:    client,
		addr:      t.Addr(),
		opTimeout: d.OpTimeout,
		logger:    logger.New("addr", t.Addr(), "user", user),
	}, nil
}

// TLSConfig builds the client TLS configuration for c.
func TLSConfig(c *config.TLS) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.Insecure,
	}
	if c.CAFile != "" {
		pem, err := ioutil.ReadFile(c.CAFile)
		if err != nil {
			return nil, errors.Wrap(err, "reading tls ca file")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("no certificates found in %s", c.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

type session struct {
	client    *mongo.Client
	addr      string
	opTimeout time.Duration
	logger    log15.Logger
}

func (s *session) run(ctx context.Context, db string, cmd bson.D, result interface{}) error {
	if s.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opTimeout)
		defer cancel()
	}
	res := s.client.Database(db).RunCommand(ctx, cmd)
	var err error
	if result != nil {
		err = res.Decode(result)
	} else {
		err = res.Err()
	}
	if err != nil {
		s.logger.Debug("command failed", "cmd", cmd[0].Key, "db", db, "err", err)
		return classify(s.addr, err)
	}
	return nil
}

func (s *session) Ping(ctx context.Context) error {
	return s.run(ctx, "admin", bson.D{{Key: "ping", Value: 1}}, nil)
}

func (s *session) Hello(ctx context.Context) (*Hello, error) {
	var h Hello
	err := s.run(ctx, "admin", bson.D{{Key: "hello", Value: 1}}, &h)
	if IsCode(err, CodeCommandNotFound) {
		// servers before 4.4.2 only know the legacy command
		var legacy struct {
			Hello    `bson:",inline"`
			IsMaster bool `bson:"ismaster"`
		}
		if err := s.run(ctx, "admin", bson.D{{Key: "isMaster", Value: 1}}, &legacy); err != nil {
			return nil, err
		}
		h = legacy.Hello
		h.IsWritablePrimary = legacy.IsMaster
		return &h, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *session) ReplSetGetConfig(ctx context.Context) (*ReplSetConfig, error) {
	var result struct {
		Config ReplSetConfig `bson:"config"`
	}
	if err := s.run(ctx, "admin", bson.D{{Key: "replSetGetConfig", Value: 1}}, &result); err != nil {
		return nil, err
	}
	return &result.Config, nil
}

func (s *session) ReplSetGetStatus(ctx context.Context) (*ReplSetStatus, error) {
	var status ReplSetStatus
	if err := s.run(ctx, "admin", bson.D{{Key: "replSetGetStatus", Value: 1}}, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (s *session) ReplSetInitiate(ctx context.Context, cfg ReplSetConfig) error {
	s.logger.Info("initiating replica set", "set", cfg.ID, "members", len(cfg.Members))
	return s.run(ctx, "admin", bson.D{{Key: "replSetInitiate", Value: cfg}}, nil)
}

func (s *session) ReplSetReconfig(ctx context.Context, cfg ReplSetConfig) error {
	s.logger.Info("reconfiguring replica set", "set", cfg.ID, "version", cfg.Version, "members", len(cfg.Members))
	return s.run(ctx, "admin", bson.D{{Key: "replSetReconfig", Value: cfg}}, nil)
}

func (s *session) UsersInfo(ctx context.Context, db, name string) ([]UserInfo, error) {
	var filter interface{} = bson.M{"forAllDBs": true}
	if name != "" {
		filter = bson.M{"user": name, "db": db}
	}
	var result struct {
		Users []UserInfo `bson:"users"`
	}
	if err := s.run(ctx, "admin", bson.D{{Key: "usersInfo", Value: filter}}, &result); err != nil {
		return nil, err
	}
	return result.Users, nil
}

func (s *session) CreateUser(ctx context.Context, u config.User) error {
	s.logger.Info("creating user", "user", u.ID())
	return s.run(ctx, u.Database, bson.D{
		{Key: "createUser", Value: u.Name},
		{Key: "pwd", Value: u.Password},
		{Key: "roles", Value: roleDocs(u.Roles)},
	}, nil)
}

func (s *session) UpdateUser(ctx context.Context, u config.User) error {
	s.logger.Info("updating user", "user", u.ID())
	return s.run(ctx, u.Database, bson.D{
		{Key: "updateUser", Value: u.Name},
		{Key: "pwd", Value: u.Password},
		{Key: "roles", Value: roleDocs(u.Roles)},
	}, nil)
}

func (s *session) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func roleDocs(roles []config.RoleRef) []bson.M {
	docs := make([]bson.M, len(roles))
	for i, r := range roles {
		docs[i] = bson.M{"role": r.Role, "db": r.DB}
	}
	return docs
}

// classify converts driver errors into CommandError or ErrUnreachable so
// callers never depend on driver types.
func classify(addr string, err error) error {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return &CommandError{Code: int(cmdErr.Code), Name: cmdErr.Name, Message: cmdErr.Message}
	}
	if isAuthMessage(err.Error()) {
		return &CommandError{Code: CodeAuthenticationFailed, Name: "AuthenticationFailed", Message: err.Error()}
	}
	var selErr topology.ServerSelectionError
	if errors.As(err, &selErr) || mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return errors.WithMessage(ErrUnreachable, fmt.Sprintf("%s: %s", addr, err))
	}
	return errors.WithStack(err)
}
