package access

import "securedocs/internal/model"

// Privilege orders what a principal is allowed to see about an entity.
type Privilege int

const (
	PrivilegeUser Privilege = iota
	PrivilegeStaff
	PrivilegeSuperuser
)

// PrivilegeOf returns the highest privilege held by p.
func PrivilegeOf(p *model.Principal) Privilege {
	switch {
	case p == nil:
		return PrivilegeUser
	case p.IsSuperuser:
		return PrivilegeSuperuser
	case p.IsStaff:
		return PrivilegeStaff
	default:
		return PrivilegeUser
	}
}

// Field is one attribute of an entity schema and the privilege needed to see it.
type Field struct {
	Name string
	Min  Privilege
}

// DocumentSchema lists the document attributes exposed by listings.
// ACL membership and blob details are limited to staff so that regular users
// cannot map out who else can read a document.
var DocumentSchema = []Field{
	{Name: "id", Min: PrivilegeUser},
	{Name: "title", Min: PrivilegeUser},
	{Name: "file_type", Min: PrivilegeUser},
	{Name: "created_at", Min: PrivilegeUser},
	{Name: "size", Min: PrivilegeStaff},
	{Name: "content_sha256", Min: PrivilegeStaff},
	{Name: "accessible_by", Min: PrivilegeStaff},
	{Name: "accessible_groups", Min: PrivilegeStaff},
}

// UserSchema lists user attributes. Privilege flags are only visible to superusers.
var UserSchema = []Field{
	{Name: "id", Min: PrivilegeUser},
	{Name: "username", Min: PrivilegeUser},
	{Name: "email", Min: PrivilegeUser},
	{Name: "groups", Min: PrivilegeStaff},
	{Name: "is_active", Min: PrivilegeStaff},
	{Name: "is_staff", Min: PrivilegeSuperuser},
	{Name: "is_superuser", Min: PrivilegeSuperuser},
}

// VisibleFields returns the names in schema that p may see, in schema order.
func VisibleFields(p *model.Principal, schema []Field) []string {
	priv := PrivilegeOf(p)
	out := make([]string, 0, len(schema))
	for _, f := range schema {
		if priv >= f.Min {
			out = append(out, f.Name)
		}
	}
	return out
}

// ProjectDocument returns the fields of doc visible to p.
func ProjectDocument(p *model.Principal, doc model.Document) map[string]any {
	all := map[string]any{
		"id":                doc.ID,
		"title":             doc.Title,
		"file_type":         doc.FileType,
		"created_at":        doc.CreatedAt,
		"size":              doc.Size,
		"content_sha256":    doc.ContentSHA256,
		"accessible_by":     nonNil(doc.AccessibleBy),
		"accessible_groups": nonNil(doc.AccessibleGroups),
	}
	return project(VisibleFields(p, DocumentSchema), all)
}

// ProjectUser returns the fields of u visible to p.
func ProjectUser(p *model.Principal, u model.Principal) map[string]any {
	all := map[string]any{
		"id":           u.ID,
		"username":     u.Username,
		"email":        u.Email,
		"groups":       nonNil(u.Groups),
		"is_active":    u.IsActive,
		"is_staff":     u.IsStaff,
		"is_superuser": u.IsSuperuser,
	}
	return project(VisibleFields(p, UserSchema), all)
}

func project(names []string, all map[string]any) map[string]any {
	out := make(map[string]any, len(names))
	for _, n := range names {
		out[n] = all[n]
	}
	return out
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
