// Package dataverse implements a client for the Dataverse native API and the
// SWORD (Atom) deposit API. It covers the read-only endpoints the report
// pipelines consume: dataverse and dataset retrieval, tree contents listing,
// storage-size lookup, Make Data Count metrics, the admin user listing, and
// the SWORD statement used to derive the release state of a dataverse.
package dataverse

import "encoding/json"

// Dataverse organizational types as returned in the dataverseType attribute.
const (
	TypeResearchers             = "RESEARCHERS"
	TypeResearchProject         = "RESEARCH_PROJECT"
	TypeResearchGroup           = "RESEARCH_GROUP"
	TypeLaboratory              = "LABORATORY"
	TypeOrganizationInstitution = "ORGANIZATIONS_INSTITUTIONS"
	TypeDepartment              = "DEPARTMENT"
	TypeTeachingCourse          = "TEACHING_COURSES"
	TypeUncategorized           = "UNCATEGORIZED"
)

// DVObject is one child entry from the /dataverses/{id}/contents endpoint.
// Dataverse children carry only id and title; dataset children additionally
// carry the pieces of their persistent identifier.
type DVObject struct {
	ID            int64  `json:"id"`
	Type          string `json:"type"` // "dataverse" or "dataset"
	Title         string `json:"title,omitempty"`
	Identifier    string `json:"identifier,omitempty"`
	PersistentURL string `json:"persistentUrl,omitempty"`
	Protocol      string `json:"protocol,omitempty"`
	Authority     string `json:"authority,omitempty"`
}

// PersistentID assembles the full persistent identifier (e.g. doi:10.x/ABC)
// for a dataset child entry. Empty when the entry is not a dataset.
func (o *DVObject) PersistentID() string {
	if o.Protocol == "" || o.Authority == "" || o.Identifier == "" {
		return ""
	}
	return o.Protocol + ":" + o.Authority + "/" + o.Identifier
}

// Contact is one entry of a dataverse's dataverseContacts list.
type Contact struct {
	DisplayOrder int    `json:"displayOrder"`
	ContactEmail string `json:"contactEmail"`
}

// Creator is the embedded creator sub-record found on dataverses created by
// older Dataverse versions, before contacts were modelled separately.
type Creator struct {
	Identifier  string `json:"identifier"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Affiliation string `json:"affiliation"`
	Position    string `json:"position"`
}

// Node is one dataverse (organizational unit) as returned by /dataverses/{id}.
type Node struct {
	ID            int64     `json:"id"`
	Alias         string    `json:"alias"`
	Name          string    `json:"name"`
	Affiliation   string    `json:"affiliation"`
	DataverseType string    `json:"dataverseType"`
	CreationDate  string    `json:"creationDate"`
	Contacts      []Contact `json:"dataverseContacts"`
	Creator       *Creator  `json:"creator"`
}

// User is one account from the admin list-users endpoint.
type User struct {
	ID               int64  `json:"id"`
	UserIdentifier   string `json:"userIdentifier"`
	DisplayName      string `json:"displayName"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	Email            string `json:"email"`
	Affiliation      string `json:"affiliation"`
	Position         string `json:"position"`
	Superuser        bool   `json:"superuser"`
	PersistentUserID string `json:"persistentUserId"`
	Roles            string `json:"roles"`
	CreatedTime      string `json:"createdTime"`
	LastLoginTime    string `json:"lastLoginTime"`
}

// UserPage is one page of the paginated admin user listing.
type UserPage struct {
	Users     []User
	UserCount int
	PageCount int
}

// Metadata field type classes as they appear on the wire.
const (
	ClassPrimitive            = "primitive"
	ClassControlledVocabulary = "controlledVocabulary"
	ClassCompound             = "compound"
)

// MetadataField is one typed metadata field from a dataset's citation block.
// Value is kept raw because its shape depends on the (typeClass, multiple)
// pair: a bare string, a list of strings, one sub-record of child fields, or
// a list of such sub-records.
type MetadataField struct {
	TypeName  string          `json:"typeName"`
	Multiple  bool            `json:"multiple"`
	TypeClass string          `json:"typeClass"`
	Value     json.RawMessage `json:"value"`
}

// FileEntry is one entry of a dataset version's files list.
type FileEntry struct {
	Restricted bool      `json:"restricted"`
	DataFile   *DataFile `json:"dataFile"`
}

// DataFile carries the stored size of one file in bytes.
type DataFile struct {
	ID       int64  `json:"id"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
}
