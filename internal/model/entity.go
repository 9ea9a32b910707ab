package model

import (
	"maps"

	"github.com/slimatic/zakapp-sub004/internal/canon"
)

// Record holds the fields every entity variant shares.
type Record struct {
	// ID is the installation-local primary key. It is never exported.
	ID string

	StableID        string
	EncryptedFields map[string]string
	PlainFields     map[string]string
	Metadata        canon.Object
	CreatedAt       string
	UpdatedAt       string
}

func (r Record) clone() Record {
	out := r
	out.EncryptedFields = maps.Clone(r.EncryptedFields)
	out.PlainFields = maps.Clone(r.PlainFields)
	out.Metadata = r.Metadata.Clone()
	return out
}

// Entity is the sealed union of portable entity variants.
type Entity interface {
	EntityType() EntityType
	Base() *Record
	// KeyBasis is the canonical unique-key string hashed into the stableId.
	KeyBasis() string
	Clone() Entity

	encodeFields(obj canon.Object)
	decodeField(key string, v canon.Value) (known bool, err error)
	missingRequired() []string
}

// Asset is a holding that counts toward zakatable wealth.
type Asset struct {
	Record
	Type             string
	Name             string
	AccountReference string
	Value            canon.Number
	Currency         string
	AcquisitionDate  string
	Notes            string
}

func (a *Asset) EntityType() EntityType { return TypeAsset }
func (a *Asset) Base() *Record          { return &a.Record }

// KeyBasis joins type, name and account reference. All three are folded,
// so "Cash"/"Savings" and "cash"/" savings " collide. Separators inside
// a component are not escaped; the basis format is frozen.
func (a *Asset) KeyBasis() string {
	return identityKey(a.Type) + ":" + identityKey(a.Name) + ":" + identityKey(a.AccountReference)
}

func (a *Asset) Clone() Entity {
	out := *a
	out.Record = a.Record.clone()
	return &out
}

func (a *Asset) encodeFields(obj canon.Object) {
	putString(obj, "type", a.Type)
	putString(obj, "name", a.Name)
	putString(obj, "accountReference", a.AccountReference)
	putNumber(obj, "value", a.Value)
	putString(obj, "currency", a.Currency)
	putString(obj, "acquisitionDate", a.AcquisitionDate)
	putString(obj, "notes", a.Notes)
}

func (a *Asset) decodeField(key string, v canon.Value) (bool, error) {
	var err error
	switch key {
	case "type":
		a.Type, err = asString(v)
	case "name":
		a.Name, err = asString(v)
	case "accountReference":
		a.AccountReference, err = asString(v)
	case "value":
		a.Value, err = asNumber(v)
	case "currency":
		a.Currency, err = asString(v)
	case "acquisitionDate":
		a.AcquisitionDate, err = asString(v)
	case "notes":
		a.Notes, err = asString(v)
	default:
		return false, nil
	}
	return true, err
}

func (a *Asset) missingRequired() []string {
	var missing []string
	if a.Type == "" {
		missing = append(missing, "type")
	}
	if a.Name == "" {
		missing = append(missing, "name")
	}
	return missing
}

// NisabRecord is one hawl-year zakat computation for an owner.
type NisabRecord struct {
	Record
	Year               string
	OwnerFingerprint   string
	NisabBasis         string
	NisabThreshold     canon.Number
	TotalWealth        canon.Number
	ZakatAmount        canon.Number
	Status             string
	HawlStartDate      string
	HawlCompletionDate string
}

func (n *NisabRecord) EntityType() EntityType { return TypeNisabRecord }
func (n *NisabRecord) Base() *Record          { return &n.Record }

func (n *NisabRecord) KeyBasis() string {
	return identityKey(n.Year) + ":" + identityKey(n.OwnerFingerprint)
}

func (n *NisabRecord) Clone() Entity {
	out := *n
	out.Record = n.Record.clone()
	return &out
}

func (n *NisabRecord) encodeFields(obj canon.Object) {
	putString(obj, "year", n.Year)
	putString(obj, "ownerFingerprint", n.OwnerFingerprint)
	putString(obj, "nisabBasis", n.NisabBasis)
	putNumber(obj, "nisabThreshold", n.NisabThreshold)
	putNumber(obj, "totalWealth", n.TotalWealth)
	putNumber(obj, "zakatAmount", n.ZakatAmount)
	putString(obj, "status", n.Status)
	putString(obj, "hawlStartDate", n.HawlStartDate)
	putString(obj, "hawlCompletionDate", n.HawlCompletionDate)
}

func (n *NisabRecord) decodeField(key string, v canon.Value) (bool, error) {
	var err error
	switch key {
	case "year":
		n.Year, err = asText(v)
	case "ownerFingerprint":
		n.OwnerFingerprint, err = asString(v)
	case "nisabBasis":
		n.NisabBasis, err = asString(v)
	case "nisabThreshold":
		n.NisabThreshold, err = asNumber(v)
	case "totalWealth":
		n.TotalWealth, err = asNumber(v)
	case "zakatAmount":
		n.ZakatAmount, err = asNumber(v)
	case "status":
		n.Status, err = asString(v)
	case "hawlStartDate":
		n.HawlStartDate, err = asString(v)
	case "hawlCompletionDate":
		n.HawlCompletionDate, err = asString(v)
	default:
		return false, nil
	}
	return true, err
}

func (n *NisabRecord) missingRequired() []string {
	var missing []string
	if n.Year == "" {
		missing = append(missing, "year")
	}
	if n.OwnerFingerprint == "" {
		missing = append(missing, "ownerFingerprint")
	}
	return missing
}

// Payment is a zakat disbursement.
type Payment struct {
	Record
	OriginalPaymentID   string
	Amount              canon.Number
	Currency            string
	Date                string
	Method              string
	Nonce               string
	Recipient           string
	NisabRecordStableID string
}

func (p *Payment) EntityType() EntityType { return TypePayment }
func (p *Payment) Base() *Record          { return &p.Record }

// KeyBasis prefers the original payment id. Without one it falls back to
// amount, date, method and nonce; the nonce is taken verbatim.
func (p *Payment) KeyBasis() string {
	if id := identityKey(p.OriginalPaymentID); id != "" {
		return id
	}
	return identityKey(p.Amount.String()) + "|" + identityKey(p.Date) + "|" +
		identityKey(p.Method) + "|" + p.Nonce
}

func (p *Payment) Clone() Entity {
	out := *p
	out.Record = p.Record.clone()
	return &out
}

func (p *Payment) encodeFields(obj canon.Object) {
	putString(obj, "originalPaymentId", p.OriginalPaymentID)
	putNumber(obj, "amount", p.Amount)
	putString(obj, "currency", p.Currency)
	putString(obj, "date", p.Date)
	putString(obj, "method", p.Method)
	putString(obj, "nonce", p.Nonce)
	putString(obj, "recipient", p.Recipient)
	putString(obj, "nisabRecordStableId", p.NisabRecordStableID)
}

func (p *Payment) decodeField(key string, v canon.Value) (bool, error) {
	var err error
	switch key {
	case "originalPaymentId":
		p.OriginalPaymentID, err = asText(v)
	case "amount":
		p.Amount, err = asNumber(v)
	case "currency":
		p.Currency, err = asString(v)
	case "date":
		p.Date, err = asString(v)
	case "method":
		p.Method, err = asString(v)
	case "nonce":
		p.Nonce, err = asString(v)
	case "recipient":
		p.Recipient, err = asString(v)
	case "nisabRecordStableId":
		p.NisabRecordStableID, err = asString(v)
	default:
		return false, nil
	}
	return true, err
}

func (p *Payment) missingRequired() []string {
	if p.OriginalPaymentID != "" {
		return nil
	}
	var missing []string
	if !p.Amount.IsSet() {
		missing = append(missing, "amount")
	}
	if p.Date == "" {
		missing = append(missing, "date")
	}
	return missing
}

func identityKey(s string) string {
	return canon.CanonicalizeString(s, canon.Identity)
}
