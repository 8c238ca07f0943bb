package settings

// Merge overlays stored values onto declared defaults. Map-valued keys merge
// recursively so newly introduced default keys survive an older stored tree.
// List-valued and scalar-valued keys are replaced wholesale by the stored
// value: lists (per-motor configuration and the like) are positionally
// meaningful and element-wise merging would produce nonsensical hybrids.
//
// Stored keys absent from the defaults are kept, so a manager can stash
// runtime state alongside its declared settings.
func Merge(defaults, stored Value) Value {
	if defaults.Kind() != KindMap {
		if stored.IsValid() {
			return stored.Clone()
		}
		return defaults.Clone()
	}
	if stored.Kind() != KindMap {
		return defaults.Clone()
	}

	out := make(map[string]Value, len(defaults.m))
	for k, dv := range defaults.m {
		sv, ok := stored.m[k]
		if !ok {
			out[k] = dv.Clone()
			continue
		}
		if dv.Kind() == KindMap && sv.Kind() == KindMap {
			out[k] = Merge(dv, sv)
		} else {
			out[k] = sv.Clone()
		}
	}
	for k, sv := range stored.m {
		if _, ok := defaults.m[k]; !ok {
			out[k] = sv.Clone()
		}
	}
	return MapValue(out)
}
