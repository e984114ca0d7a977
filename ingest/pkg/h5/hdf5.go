package h5

import (
	"fmt"
	"path"
	"strings"

	"gonum.org/v1/hdf5"
)

// maxStringAttr bounds fixed-length string attribute reads.
const maxStringAttr = 256

type hdf5Source struct {
	f *hdf5.File
}

// Open reads the photometry file at path.
func Open(path string) (*Photometry, error) {
	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	src := &hdf5Source{f: f}
	defer src.Close()

	p, err := Read(src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// HDF5Opener opens files with the HDF5 library.
var HDF5Opener Opener = OpenerFunc(Open)

func (s *hdf5Source) Close() error {
	return s.f.Close()
}

func (s *hdf5Source) group(p string) (*hdf5.Group, error) {
	g, err := s.f.OpenGroup(strings.TrimPrefix(p, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: group %s", ErrNotExist, p)
	}
	return g, nil
}

func (s *hdf5Source) dataset(p string) (*hdf5.Dataset, int, error) {
	parent, name := path.Split(p)
	g, err := s.group(strings.TrimSuffix(parent, "/"))
	if err != nil {
		return nil, 0, err
	}
	defer g.Close()
	if !g.LinkExists(name) {
		return nil, 0, fmt.Errorf("%w: dataset %s", ErrNotExist, p)
	}
	ds, err := g.OpenDataset(name)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open dataset %s: %w", p, err)
	}
	space := ds.Space()
	dims, _, err := space.SimpleExtentDims()
	_ = space.Close()
	if err != nil {
		ds.Close()
		return nil, 0, fmt.Errorf("failed to read extent of %s: %w", p, err)
	}
	if len(dims) != 1 {
		ds.Close()
		return nil, 0, fmt.Errorf("dataset %s has rank %d, expected 1", p, len(dims))
	}
	return ds, int(dims[0]), nil
}

func (s *hdf5Source) Floats(p string) ([]float64, error) {
	ds, n, err := s.dataset(p)
	if err != nil {
		return nil, err
	}
	defer ds.Close()
	out := make([]float64, n)
	if n == 0 {
		return out, nil
	}
	if err := ds.Read(&out); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return out, nil
}

func (s *hdf5Source) Ints(p string) ([]int64, error) {
	ds, n, err := s.dataset(p)
	if err != nil {
		return nil, err
	}
	defer ds.Close()
	out := make([]int64, n)
	if n == 0 {
		return out, nil
	}
	if err := ds.Read(&out); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return out, nil
}

func (s *hdf5Source) Children(p string) ([]string, error) {
	g, err := s.group(p)
	if err != nil {
		return nil, err
	}
	defer g.Close()
	n, err := g.NumObjects()
	if err != nil {
		return nil, fmt.Errorf("failed to count objects in %s: %w", p, err)
	}
	out := make([]string, 0, n)
	for i := uint(0); i < n; i++ {
		name, err := g.ObjectNameByIndex(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read object %d of %s: %w", i, p, err)
		}
		out = append(out, name)
	}
	return out, nil
}

func (s *hdf5Source) attribute(p, name string) (*hdf5.Attribute, error) {
	g, err := s.group(p)
	if err != nil {
		return nil, err
	}
	defer g.Close()
	attr, err := g.OpenAttribute(name)
	if err != nil {
		return nil, fmt.Errorf("%w: attribute %s on %s", ErrNotExist, name, p)
	}
	return attr, nil
}

func (s *hdf5Source) IntAttr(p, name string) (int64, error) {
	attr, err := s.attribute(p, name)
	if err != nil {
		return 0, err
	}
	defer attr.Close()
	var v int64
	if err := attr.Read(&v, hdf5.T_NATIVE_INT64); err != nil {
		return 0, fmt.Errorf("failed to read attribute %s: %w", name, err)
	}
	return v, nil
}

// StringAttr reads fixed-length string attributes.
func (s *hdf5Source) StringAttr(p, name string) (string, error) {
	attr, err := s.attribute(p, name)
	if err != nil {
		return "", err
	}
	defer attr.Close()

	dt, err := hdf5.T_C_S1.Copy()
	if err != nil {
		return "", err
	}
	defer dt.Close()
	if err := dt.SetSize(maxStringAttr); err != nil {
		return "", err
	}
	buf := make([]byte, maxStringAttr)
	if err := attr.Read(&buf[0], dt); err != nil {
		return "", fmt.Errorf("failed to read attribute %s: %w", name, err)
	}
	return strings.TrimRight(string(buf), "\x00 "), nil
}
