package api

import (
	"context"
	"fmt"
	"reflect"

	"github.com/filecoin-project/go-jsonrpc/auth"
)

type MethodName = string

const (
	PermRead  = "read"
	PermWrite = "write"
	PermSign  = "sign"
	PermAdmin = "admin"
)

var AllPermissions = []auth.Permission{PermRead, PermWrite, PermSign, PermAdmin}
var defaultPerms = []auth.Permission{PermRead}

// PermissionsFor expands a token permission into every permission it
// includes, e.g. sign grants sign, write and read. Unknown values yield nil.
func PermissionsFor(perm string) []auth.Permission {
	switch perm {
	case PermAdmin:
		return []auth.Permission{PermAdmin, PermSign, PermWrite, PermRead}
	case PermSign:
		return []auth.Permission{PermSign, PermWrite, PermRead}
	case PermWrite:
		return []auth.Permission{PermWrite, PermRead}
	case PermRead:
		return []auth.Permission{PermRead}
	default:
		return nil
	}
}

// PermissionProxy fills the func fields of out with the methods of in,
// guarded by the permission of the field's perm tag.
func PermissionProxy(in interface{}, out interface{}) {
	ra := reflect.ValueOf(in)
	rint := reflect.ValueOf(out).Elem()
	for i := 0; i < ra.NumMethod(); i++ {
		methodName := ra.Type().Method(i).Name
		field, exists := rint.Type().FieldByName(methodName)
		if !exists {
			continue
		}

		requiredPerm := field.Tag.Get("perm")
		if requiredPerm == "" {
			panic("missing 'perm' tag on " + field.Name) // ok
		}

		fn := ra.Method(i)
		rint.FieldByName(methodName).Set(reflect.MakeFunc(field.Type, func(args []reflect.Value) (results []reflect.Value) {
			ctx := args[0].Interface().(context.Context)
			if auth.HasPerm(ctx, defaultPerms, auth.Permission(requiredPerm)) {
				return fn.Call(args)
			}

			err := fmt.Errorf("missing permission to invoke '%s' (need '%s')", methodName, requiredPerm)
			rerr := reflect.ValueOf(&err).Elem()
			if fn.Type().NumOut() == 2 {
				return []reflect.Value{
					reflect.Zero(fn.Type().Out(0)),
					rerr,
				}
			}
			return []reflect.Value{rerr}
		}))
	}
}
