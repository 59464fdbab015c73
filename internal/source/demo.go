package source

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"strings"

	"immostats/config"
)

type demoCity struct {
	Name        string
	PostalCode  string
	Latitude    float64
	Longitude   float64
	PricePerSqm float64
}

// demoCities seeds generated records with one realistic city per department
var demoCities = map[string]demoCity{
	"75": {"Paris", "75011", 48.8566, 2.3522, 10400},
	"92": {"Boulogne-Billancourt", "92100", 48.8397, 2.2399, 8900},
	"69": {"Lyon", "69003", 45.7640, 4.8357, 5100},
	"38": {"Grenoble", "38000", 45.1885, 5.7245, 2900},
	"13": {"Marseille", "13001", 43.2965, 5.3698, 3600},
	"06": {"Nice", "06000", 43.7102, 7.2620, 5200},
	"31": {"Toulouse", "31000", 43.6047, 1.4442, 3900},
	"34": {"Montpellier", "34000", 43.6108, 3.8767, 3800},
	"33": {"Bordeaux", "33000", 44.8378, -0.5792, 4600},
	"59": {"Lille", "59000", 50.6292, 3.0573, 3500},
	"67": {"Strasbourg", "67000", 48.5734, 7.7521, 3600},
	"44": {"Nantes", "44000", 47.2184, -1.5536, 3700},
	"35": {"Rennes", "35000", 48.1173, -1.6778, 3900},
	"76": {"Rouen", "76000", 49.4432, 1.0999, 2600},
	"21": {"Dijon", "21000", 47.3220, 5.0415, 2500},
	"45": {"Orléans", "45000", 47.9030, 1.9093, 2400},
	"2A": {"Ajaccio", "20000", 41.9192, 8.7386, 3700},
}

var demoLocalTypes = []string{"Appartement", "Appartement", "Maison", "Studio", "Loft", "Terrain", "Dépendance"}

// DemoClient generates deterministic records for a partition and period.
// It satisfies the same contract as the HTTP feed and never touches the network.
type DemoClient struct {
	name    string
	perCall int
	seed    int64
}

func NewDemoClient(name string, recordsPerPartition int, seed int64) *DemoClient {
	if name == "" {
		name = "demo"
	}
	if recordsPerPartition <= 0 {
		recordsPerPartition = 40
	}
	return &DemoClient{name: name, perCall: recordsPerPartition, seed: seed}
}

func (d *DemoClient) Name() string {
	return d.name
}

func (d *DemoClient) FetchPartition(ctx context.Context, partition string, period int) ([]RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Partition: partition, Period: period, Err: err}
	}
	region := config.GetRegionByCode(partition)
	if region == nil {
		return nil, &FetchError{Partition: partition, Period: period, Err: fmt.Errorf("unknown partition")}
	}

	h := fnv.New64a()
	h.Write([]byte(partition + "|" + strconv.Itoa(period)))
	r := rand.New(rand.NewSource(int64(h.Sum64()) ^ d.seed))

	records := make([]RawRecord, 0, d.perCall)
	for i := 0; i < d.perCall; i++ {
		dep := region.Departments[r.Intn(len(region.Departments))]
		city, ok := demoCities[dep]
		if !ok {
			city, dep = demoCityFor(region, dep)
		}

		localType := demoLocalTypes[r.Intn(len(demoLocalTypes))]
		surface := 18 + r.Float64()*110
		if localType == "Maison" {
			surface = 60 + r.Float64()*190
		}
		pricePerSqm := city.PricePerSqm * (0.8 + r.Float64()*0.4)
		price := surface * pricePerSqm

		record := RawRecord{
			MutationID:     fmt.Sprintf("%d-%s-%05d", period, partition, i+1),
			MutationDate:   fmt.Sprintf("%d-%02d-%02d", period, r.Intn(12)+1, r.Intn(28)+1),
			MutationNature: "Vente",
			Price:          RawValue(strings.Replace(strconv.FormatFloat(price, 'f', 2, 64), ".", ",", 1)),
			Surface:        RawValue(strconv.Itoa(int(surface))),
			Rooms:          RawValue(strconv.Itoa(1 + int(surface)/25)),
			LocalType:      localType,
			PostalCode:     RawValue(city.PostalCode),
			City:           city.Name,
			Department:     RawValue(dep),
		}
		if city.Latitude != 0 {
			record.Latitude = RawValue(strconv.FormatFloat(city.Latitude+(r.Float64()-0.5)*0.06, 'f', 6, 64))
			record.Longitude = RawValue(strconv.FormatFloat(city.Longitude+(r.Float64()-0.5)*0.06, 'f', 6, 64))
		}

		// A small share of spurious records exercises the reject path
		switch {
		case i%31 == 30:
			record.Price, record.Surface = "", ""
		case i%23 == 22:
			record.Surface = "5"
		case i%15 == 14:
			record.Price = "0"
		}

		records = append(records, record)
	}
	return records, nil
}

func demoCityFor(region *config.Region, dep string) (demoCity, string) {
	for _, candidate := range region.Departments {
		if city, ok := demoCities[candidate]; ok {
			return city, candidate
		}
	}
	postalCode := dep + "000"
	if len(dep) == 3 {
		postalCode = dep + "00"
	}
	return demoCity{Name: "Commune " + dep, PostalCode: postalCode, PricePerSqm: 2800}, dep
}
