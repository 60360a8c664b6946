package secretstore

import "errors"

var errSecretMissing = errors.New("no such secret")

// testStore is an in-memory Store for tests.
type testStore map[string][]byte

func (s testStore) Put(name string, data []byte) error {
	s[name] = data
	return nil
}

func (s testStore) Get(name string) ([]byte, error) {
	data, ok := s[name]
	if !ok {
		return nil, errSecretMissing
	}
	return data, nil
}

func (s testStore) Delete(name string) error {
	delete(s, name)
	return nil
}
