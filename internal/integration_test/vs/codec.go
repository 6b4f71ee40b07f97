package vs

import "github.com/pkg/errors"

// rawResults converts the result of a cgo runtime call into raw bits. Such calls return nil
// without results, the value itself with one, and a slice with more.
func rawResults(result interface{}) ([]uint64, error) {
	switch r := result.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		ret := make([]uint64, len(r))
		for i, v := range r {
			raw, err := rawValue(v)
			if err != nil {
				return nil, errors.Wrapf(err, "result %d", i)
			}
			ret[i] = raw
		}
		return ret, nil
	default:
		raw, err := rawValue(r)
		if err != nil {
			return nil, err
		}
		return []uint64{raw}, nil
	}
}

func rawValue(v interface{}) (uint64, error) {
	switch v := v.(type) {
	case int32:
		return uint64(uint32(v)), nil
	case int64:
		return uint64(v), nil
	default:
		return 0, errors.Errorf("unsupported value %v of type %T", v, v)
	}
}
