// Package dio implements the transactional scope: a short-lived handle
// on a chain that stages mutations in memory until Commit folds them
// into one ordered event batch and feeds it through the chain's pipe.
package dio

import (
	"reflect"

	"github.com/untoldecay/trustchain/internal/event"
)

// Row is one staged or loaded record: decoded application data plus
// the bookkeeping needed to re-derive its metadata at commit time.
type Row[D any] struct {
	Key         event.PrimaryKey
	TypeName    string
	Parent      *event.ParentPointer
	Data        D
	Auth        event.Authorization
	Collections []event.CollectionRef
	Format      event.Format
	CreatedMS   int64
	UpdatedMS   int64
	ExtraMeta   []event.Item
}

func typeName[D any]() string {
	var zero D
	t := reflect.TypeOf(zero)
	if t == nil {
		return "unknown"
	}
	return t.String()
}

// Dao is a data-access handle bound to one row: mutate Data in place
// and call Dio.Store (for a freshly made row) or rely on the staged
// state already tracked by Dio for a previously loaded one.
type Dao[D any] struct {
	Row Row[D]
}

// Key returns the row's primary key.
func (d *Dao[D]) Key() event.PrimaryKey { return d.Row.Key }
