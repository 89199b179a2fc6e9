// Package access decides whether a principal may view a document.
//
// Decisions are pure functions of the principal and the document ACL. They
// are never cached: callers load both fresh for every request.
package access

import "securedocs/internal/model"

// Basis records which rule granted access. It is for logs only and must not
// be returned to clients.
type Basis string

const (
	BasisNone   Basis = "none"
	BasisAdmin  Basis = "admin"
	BasisDirect Basis = "direct"
	BasisGroup  Basis = "group"
)

// Decision is the outcome of evaluating a principal against a document.
type Decision struct {
	Allowed bool
	Basis   Basis
}

// Evaluate applies the document ACL. Access is granted when the principal is
// staff or superuser, is listed directly on the document, or belongs to one
// of the document's groups. Anything else, including nil inputs, is denied.
func Evaluate(p *model.Principal, doc *model.Document) Decision {
	if p == nil || doc == nil {
		return Decision{Basis: BasisNone}
	}
	if p.IsAdmin() {
		return Decision{Allowed: true, Basis: BasisAdmin}
	}
	for _, uid := range doc.AccessibleBy {
		if uid == p.ID {
			return Decision{Allowed: true, Basis: BasisDirect}
		}
	}
	if len(p.Groups) > 0 && len(doc.AccessibleGroups) > 0 {
		member := make(map[int64]struct{}, len(p.Groups))
		for _, gid := range p.Groups {
			member[gid] = struct{}{}
		}
		for _, gid := range doc.AccessibleGroups {
			if _, ok := member[gid]; ok {
				return Decision{Allowed: true, Basis: BasisGroup}
			}
		}
	}
	return Decision{Basis: BasisNone}
}

// Authorize reports whether p may view doc.
func Authorize(p *model.Principal, doc *model.Document) bool {
	return Evaluate(p, doc).Allowed
}
