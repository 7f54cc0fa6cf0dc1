// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package serve

import (
	"fmt"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/tombee/gearbox/internal/commands/shared"
)

// Credential syscalls, replaced in tests.
var (
	setgroups = unix.Setgroups
	setgid    = unix.Setgid
	setuid    = unix.Setuid
)

// switchUser drops to group and then user. Either may be a name or a
// numeric id. When only a user is given its primary group is used.
// Supplementary groups are replaced by the target group so nothing
// inherited from the launching user survives the switch.
func switchUser(userName, groupName string) error {
	if userName == "" && groupName == "" {
		return nil
	}

	uid, gid := -1, -1
	if groupName != "" {
		id, err := lookupGroup(groupName)
		if err != nil {
			return err
		}
		gid = id
	}
	if userName != "" {
		id, primary, err := lookupUser(userName)
		if err != nil {
			return err
		}
		uid = id
		if gid < 0 {
			gid = primary
		}
	}

	if gid >= 0 {
		if err := setgroups([]int{gid}); err != nil {
			return shared.NewStartupError(fmt.Sprintf("cannot set supplementary groups to %d", gid), err)
		}
		if err := setgid(gid); err != nil {
			return shared.NewStartupError(fmt.Sprintf("cannot switch to group %s", groupName), err)
		}
	}
	if uid >= 0 {
		if err := setuid(uid); err != nil {
			return shared.NewStartupError(fmt.Sprintf("cannot switch to user %s", userName), err)
		}
	}
	return nil
}

func lookupGroup(name string) (int, error) {
	if id, err := strconv.Atoi(name); err == nil {
		return id, nil
	}
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, shared.NewUsageError(fmt.Sprintf("bad group: %q; no such group exists", name), nil)
	}
	return strconv.Atoi(g.Gid)
}

func lookupUser(name string) (uid, gid int, err error) {
	var u *user.User
	if _, convErr := strconv.Atoi(name); convErr == nil {
		u, err = user.LookupId(name)
	} else {
		u, err = user.Lookup(name)
	}
	if err != nil {
		return 0, 0, shared.NewUsageError(fmt.Sprintf("bad username: %q; no such user exists", name), nil)
	}
	if uid, err = strconv.Atoi(u.Uid); err != nil {
		return 0, 0, err
	}
	if gid, err = strconv.Atoi(u.Gid); err != nil {
		return 0, 0, err
	}
	return uid, gid, nil
}
