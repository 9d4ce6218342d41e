package geo

import (
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/shuliakovsky/wax-node-directory/pkg/nodes"
)

// MaxMind reads a GeoLite2/GeoIP2 City database.
type MaxMind struct {
	reader *geoip2.Reader
}

func OpenMaxMind(path string) (*MaxMind, error) {
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &MaxMind{reader: r}, nil
}

func (m *MaxMind) Locate(ip net.IP) (nodes.Geo, error) {
	rec, err := m.reader.City(ip)
	if err != nil {
		return nodes.Geo{}, err
	}
	g := nodes.Geo{
		Country:  rec.Country.IsoCode,
		Timezone: rec.Location.TimeZone,
	}
	if len(rec.Subdivisions) > 0 {
		g.Region = rec.Subdivisions[0].IsoCode
	}
	return g, nil
}

func (m *MaxMind) Close() error { return m.reader.Close() }
