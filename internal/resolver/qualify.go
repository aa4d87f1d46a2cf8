package resolver

import "github.com/vk/dfkernel/internal/cellid"

// qualify applies the qualifier rules to a "$" reference:
//
//   - "^", or no tag and no id: take the name's current external producer,
//     if it has one.
//   - a tag missing from inputTags is dropped under "^" and is an error
//     otherwise.
//   - "=" with an id that differs from the tag's cell is a stale pin.
//   - otherwise a differing id is resolved in favour of the producer under
//     "^" (the tag is dropped) or of the tag (the id is updated).
func qualify(ref Ref, cell cellid.ID, links Links, inputTags map[string]cellid.ID) (Ref, error) {
	if ref.Qualifier == Follow || (ref.Tag == "" && ref.CellID == "") {
		if producer, ok := links.ResolveExternalCurrent(ref.Name, cell); ok {
			ref.CellID = producer
		}
	}

	if ref.Tag != "" {
		tagged, known := inputTags[ref.Tag]
		switch {
		case !known && ref.Qualifier == Follow:
			ref.Tag = ""
		case !known:
			return ref, &UnknownTagError{Ref: ref}
		case ref.Qualifier == Pinned && ref.CellID != "" && ref.CellID != tagged:
			return ref, &StalePinError{Ref: ref, Current: tagged}
		case ref.CellID == "":
			ref.CellID = tagged
		case ref.CellID != tagged && ref.Qualifier == Follow:
			ref.Tag = ""
		case ref.CellID != tagged:
			ref.CellID = tagged
		}
	}

	if ref.CellID == "" {
		return ref, &UnresolvedRefError{Ref: ref}
	}
	return ref, nil
}
