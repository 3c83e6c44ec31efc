package message

// Dict is a string-keyed dictionary of values.
type Dict map[string]Value

// Clone returns a deep copy of d. A nil Dict clones to nil.
func (d Dict) Clone() Dict {
	if d == nil {
		return nil
	}
	out := make(Dict, len(d))
	for k, v := range d {
		out[k] = v.Clone()
	}
	return out
}

// Equal reports deep equality.
func (d Dict) Equal(o Dict) bool {
	if len(d) != len(o) {
		return false
	}
	for k, v := range d {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

func (d Dict) SetString(key, val string) { d[key] = String(val) }
func (d Dict) SetInt(key string, val int32) { d[key] = Int(val) }
func (d Dict) SetLong(key string, val int64) { d[key] = Long(val) }

// GetString returns the string stored under key.
func (d Dict) GetString(key string) (string, bool) {
	v, ok := d[key]
	if !ok {
		return "", false
	}
	return v.AsString()
}

// GetInt returns the integer stored under key, accepting int and long values.
func (d Dict) GetInt(key string) (int32, bool) {
	v, ok := d[key]
	if !ok {
		return 0, false
	}
	return v.AsInt()
}

// GetLong returns the integer stored under key, accepting int and long values.
func (d Dict) GetLong(key string) (int64, bool) {
	v, ok := d[key]
	if !ok {
		return 0, false
	}
	return v.AsLong()
}
