package reconcile

import (
	"github.com/flynn/mongorole/admin"
	"github.com/flynn/mongorole/config"
	"github.com/flynn/mongorole/pkg/roleerr"
	"github.com/pkg/errors"
)

// usersEnabled limits user management to the initial master when
// replication is on, since users replicate to every member.
func usersEnabled(r *run) bool {
	if len(r.Desired.Users.All()) == 0 {
		return false
	}
	rs := r.Desired.ReplicaSet
	return rs == nil || rs.Master
}

func userResources(r *run) []string {
	var res []string
	for _, u := range r.Desired.Users.All() {
		res = append(res, "user:"+u.ID())
	}
	return res
}

// users creates missing users and applies the password policy to existing
// ones. A failed user does not stop the others.
func (r *run) users() bool {
	cred := r.Desired.AdminCredential()
	sess, authed, err := r.adminSession(cred)
	if err != nil {
		if r.DryRun && admin.IsUnreachable(err) {
			for _, res := range userResources(r) {
				r.changed(res, "would create, daemon not running")
			}
			return true
		}
		for _, res := range userResources(r) {
			r.fail(res, err)
		}
		return false
	}
	defer func() {
		if sess != nil {
			sess.Close(r.ctx)
		}
	}()

	ok := true
	for _, u := range r.Desired.Users.All() {
		created, good := r.user(sess, u)
		ok = ok && good
		if created && !authed && cred != nil && u.Name == cred.Username && u.Database == cred.Source {
			// creating the first user closes the localhost exception
			sess.Close(r.ctx)
			if sess, err = r.Connector.Connect(r.ctx, r.local.WithCredential(cred)); err != nil {
				sess = nil
				r.fail("user:"+u.ID(), roleerr.Observation("users", err))
				return false
			}
			authed = true
		}
	}
	return ok
}

// adminSession connects with the admin credential, falling back to an
// unauthenticated session while no admin user exists yet.
func (r *run) adminSession(cred *config.Credential) (admin.Admin, bool, error) {
	sess, err := r.Connector.Connect(r.ctx, r.local.WithCredential(cred))
	if err != nil {
		return nil, false, roleerr.Observation("users", err)
	}
	err = sess.Ping(r.ctx)
	if err == nil {
		return sess, cred != nil, nil
	}
	sess.Close(r.ctx)
	if !admin.IsAuthError(err) || cred == nil {
		return nil, false, roleerr.Observation("users", err)
	}
	r.log.Info("admin credential rejected, using localhost exception", "user", cred.Username)
	if sess, err = r.Connector.Connect(r.ctx, r.local); err != nil {
		return nil, false, roleerr.Observation("users", err)
	}
	return sess, false, nil
}

func (r *run) user(sess admin.Admin, u config.User) (created, ok bool) {
	res := "user:" + u.ID()
	infos, err := sess.UsersInfo(r.ctx, u.Database, u.Name)
	if err != nil {
		r.fail(res, roleerr.Observation(res, err))
		return false, false
	}
	if len(infos) == 0 {
		if r.DryRun {
			r.changed(res, "would create")
			return false, true
		}
		if err := sess.CreateUser(r.ctx, u); err != nil {
			r.fail(res, roleerr.Apply(res, err))
			return false, false
		}
		r.changed(res, "created")
		return true, true
	}

	rolesMatch := admin.SameRoles(infos[0].Roles, u.Roles)
	switch r.Desired.Users.PasswordUpdate {
	case config.PasswordAlways:
		if rolesMatch && r.passwordWorks(u) {
			r.unchanged(res, "")
			return false, true
		}
		if r.DryRun {
			r.changed(res, "would update")
			return false, true
		}
		if err := sess.UpdateUser(r.ctx, u); err != nil {
			r.fail(res, roleerr.Apply(res, err))
			return false, false
		}
		r.changed(res, "updated")
		return false, true
	default:
		if !rolesMatch {
			r.fail(res, roleerr.Apply(res, errors.Errorf("user exists with roles %v, configured roles are %v", infos[0].Roles, u.Roles)))
			return false, false
		}
		r.unchanged(res, "")
		return false, true
	}
}

// passwordWorks reports whether u can authenticate with its configured
// password.
func (r *run) passwordWorks(u config.User) bool {
	sess, err := r.Connector.Connect(r.ctx, r.local.WithCredential(&config.Credential{
		Username: u.Name,
		Password: u.Password,
		Source:   u.Database,
	}))
	if err != nil {
		return false
	}
	defer sess.Close(r.ctx)
	err = sess.Ping(r.ctx)
	if err != nil && !admin.IsAuthError(err) {
		r.log.Warn("password check failed", "user", u.ID(), "err", err)
	}
	return err == nil
}
