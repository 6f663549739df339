package event

// ItemKind identifies which of the closed set of core-metadata items a
// given Item carries. Metadata items are a closed, well-known hierarchy
// (like the wire Message variants), so we encode them as a tagged
// struct rather than a family of interface types.
type ItemKind string

const (
	ItemParent       ItemKind = "parent"
	ItemDataKey      ItemKind = "data_key"
	ItemAuthorization ItemKind = "authorization"
	ItemTimestamp    ItemKind = "timestamp"
	ItemTombstone    ItemKind = "tombstone"
	ItemTypeName     ItemKind = "type_name"
	ItemReplyTo      ItemKind = "reply_to"
	ItemCollection   ItemKind = "collection"
	ItemEncryptionIV ItemKind = "encryption_iv"
	ItemSignature    ItemKind = "signature"
)

// ReadKind is the closed set of read-authorization strategies.
type ReadKind uint8

const (
	ReadInherit ReadKind = iota
	ReadEveryone
	ReadSpecific
)

// ReadOption describes who may decrypt/read an event's payload.
type ReadOption struct {
	Kind    ReadKind
	KeyHash Hash // meaningful only when Kind == ReadSpecific
}

// WriteKind is the closed set of write-authorization strategies.
type WriteKind uint8

const (
	WriteInherit WriteKind = iota
	WriteNobody
	WriteEveryone
	WriteSpecific
)

// WriteOption describes who may author new events superseding this key.
type WriteOption struct {
	Kind    WriteKind
	KeyHash Hash // meaningful only when Kind == WriteSpecific
}

// Authorization is the authorization metadata item.
type Authorization struct {
	Read  ReadOption
	Write WriteOption
}

// IsRelevant reports whether this authorization differs from the
// all-inherit default, i.e. whether it is worth attaching to an event.
func (a Authorization) IsRelevant() bool {
	return a.Read.Kind != ReadInherit || a.Write.Kind != WriteInherit
}

// PublicReadAuthorization is attached to tombstone events: anyone may
// read that the key was deleted, but nobody may write it again under
// that authorization (a fresh root is required, subject to
// disable_new_roots).
var PublicReadAuthorization = Authorization{
	Read:  ReadOption{Kind: ReadEveryone},
	Write: WriteOption{Kind: WriteNobody},
}

// ParentPointer links an event to its parent primary key and, when the
// event is a collection member, the collection it belongs to under that
// parent.
type ParentPointer struct {
	ParentID   PrimaryKey
	Collection CollectionRef
}

// HasCollection reports whether this parent pointer also marks
// collection membership.
func (p ParentPointer) HasCollection() bool {
	return p.Collection.CollectionID != 0 || p.Collection.ParentID != 0
}

// Signature is a signature-item payload: who signed (by key hash) and
// the raw signature bytes.
type Signature struct {
	PublicKeyHash Hash
	Bytes         []byte
}

// Item is one core-metadata entry. Exactly one of the typed fields is
// meaningful, selected by Kind.
type Item struct {
	Kind ItemKind

	Parent        *ParentPointer
	DataKey       *PrimaryKey
	Authorization *Authorization
	TimestampMS   int64
	Tombstone     *PrimaryKey
	TypeName      string
	ReplyTo       *PrimaryKey
	Collection    *CollectionRef
	EncryptionIV  []byte
	Signature     *Signature
}

// Metadata is the ordered composition of core-metadata items carried by
// every event.
type Metadata struct {
	Core []Item
}

// Add appends an item, mutating m in place; used by the lint passes.
func (m *Metadata) Add(item Item) {
	m.Core = append(m.Core, item)
}

// AddParent attaches a parent pointer.
func (m *Metadata) AddParent(p ParentPointer) {
	m.Add(Item{Kind: ItemParent, Parent: &p})
}

// AddDataKey ties this event to a primary key.
func (m *Metadata) AddDataKey(key PrimaryKey) {
	m.Add(Item{Kind: ItemDataKey, DataKey: &key})
}

// AddAuthorization attaches a read/write authorization.
func (m *Metadata) AddAuthorization(a Authorization) {
	m.Add(Item{Kind: ItemAuthorization, Authorization: &a})
}

// AddTimestamp attaches the event's commit timestamp (unix milliseconds).
func (m *Metadata) AddTimestamp(ms int64) {
	m.Add(Item{Kind: ItemTimestamp, TimestampMS: ms})
}

// AddTombstone marks key as deleted as of this event.
func (m *Metadata) AddTombstone(key PrimaryKey) {
	m.Add(Item{Kind: ItemTombstone, Tombstone: &key})
}

// AddTypeName attaches the row's type-name for the invoke/service layer.
func (m *Metadata) AddTypeName(name string) {
	m.Add(Item{Kind: ItemTypeName, TypeName: name})
}

// AddReplyTo marks this event as a reply to a prior request primary key.
func (m *Metadata) AddReplyTo(key PrimaryKey) {
	m.Add(Item{Kind: ItemReplyTo, ReplyTo: &key})
}

// AddCollection marks collection membership independent of the parent
// pointer (used when an event belongs to a collection but is not a
// direct structural child, e.g. a batch cover event).
func (m *Metadata) AddCollection(ref CollectionRef) {
	m.Add(Item{Kind: ItemCollection, Collection: &ref})
}

// AddEncryptionIV attaches the initialization vector used by a data
// transform plugin.
func (m *Metadata) AddEncryptionIV(iv []byte) {
	m.Add(Item{Kind: ItemEncryptionIV, EncryptionIV: iv})
}

// AddSignature attaches a signature item.
func (m *Metadata) AddSignature(sig Signature) {
	m.Add(Item{Kind: ItemSignature, Signature: &sig})
}

func (m Metadata) first(kind ItemKind) (Item, bool) {
	for _, it := range m.Core {
		if it.Kind == kind {
			return it, true
		}
	}
	return Item{}, false
}

// DataKey returns the primary key this event's payload ties to, if any.
func (m Metadata) DataKey() (PrimaryKey, bool) {
	it, ok := m.first(ItemDataKey)
	if !ok || it.DataKey == nil {
		return 0, false
	}
	return *it.DataKey, true
}

// Parent returns the parent pointer, if any.
func (m Metadata) Parent() (ParentPointer, bool) {
	it, ok := m.first(ItemParent)
	if !ok || it.Parent == nil {
		return ParentPointer{}, false
	}
	return *it.Parent, true
}

// GetAuthorization returns the attached authorization, if any.
func (m Metadata) GetAuthorization() (Authorization, bool) {
	it, ok := m.first(ItemAuthorization)
	if !ok || it.Authorization == nil {
		return Authorization{}, false
	}
	return *it.Authorization, true
}

// Timestamp returns the event's commit timestamp in unix milliseconds.
func (m Metadata) Timestamp() (int64, bool) {
	it, ok := m.first(ItemTimestamp)
	if !ok {
		return 0, false
	}
	return it.TimestampMS, true
}

// TombstoneKey returns the key this event tombstones, if it is a
// tombstone event.
func (m Metadata) TombstoneKey() (PrimaryKey, bool) {
	it, ok := m.first(ItemTombstone)
	if !ok || it.Tombstone == nil {
		return 0, false
	}
	return *it.Tombstone, true
}

// TypeName returns the row's type-name, if any.
func (m Metadata) TypeName() (string, bool) {
	it, ok := m.first(ItemTypeName)
	if !ok {
		return "", false
	}
	return it.TypeName, true
}

// ReplyTo returns the request key this event replies to, if any.
func (m Metadata) ReplyTo() (PrimaryKey, bool) {
	it, ok := m.first(ItemReplyTo)
	if !ok || it.ReplyTo == nil {
		return 0, false
	}
	return *it.ReplyTo, true
}

// Collections returns every collection this event claims membership in,
// via either an explicit collection item or its parent pointer.
func (m Metadata) Collections() []CollectionRef {
	var out []CollectionRef
	if p, ok := m.Parent(); ok && p.HasCollection() {
		out = append(out, p.Collection)
	}
	for _, it := range m.Core {
		if it.Kind == ItemCollection && it.Collection != nil {
			out = append(out, *it.Collection)
		}
	}
	return out
}

// EncryptionIV returns the attached IV bytes, if any.
func (m Metadata) EncryptionIV() ([]byte, bool) {
	it, ok := m.first(ItemEncryptionIV)
	if !ok {
		return nil, false
	}
	return it.EncryptionIV, true
}

// Signature returns the attached signature item, if any.
func (m Metadata) Signature() (Signature, bool) {
	it, ok := m.first(ItemSignature)
	if !ok || it.Signature == nil {
		return Signature{}, false
	}
	return *it.Signature, true
}

// WithoutSignature returns a copy of m with its Signature item (if any)
// stripped: the form a signature is computed and verified over, since
// an event obviously cannot sign its own signature bytes.
func (m Metadata) WithoutSignature() Metadata {
	out := Metadata{Core: make([]Item, 0, len(m.Core))}
	for _, it := range m.Core {
		if it.Kind == ItemSignature {
			continue
		}
		out.Core = append(out.Core, it)
	}
	return out
}

// IsRoot reports whether this event has no parent pointer.
func (m Metadata) IsRoot() bool {
	_, ok := m.Parent()
	return !ok
}
