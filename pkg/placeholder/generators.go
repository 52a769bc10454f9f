package placeholder

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

func builtinGenerators(seed uint64) map[string]Generator {
	fk := newFaker(seed)
	return map[string]Generator{
		"$uuid":         genUUID,
		"$timestamp":    genTimestamp,
		"$isoTimestamp": genISOTimestamp,
		"$randomInt":    fk.randomInt,
		"$faker":        fk.generate,
	}
}

func genUUID(_ []string) (any, error) {
	return uuid.NewString(), nil
}

func genTimestamp(_ []string) (any, error) {
	return time.Now().UnixMilli(), nil
}

func genISOTimestamp(_ []string) (any, error) {
	return time.Now().UTC().Format(time.RFC3339), nil
}

// faker serializes access to one seeded gofakeit source so a run's values
// depend only on the seed and the order they are requested in.
type faker struct {
	mu sync.Mutex
	f  *gofakeit.Faker
}

func newFaker(seed uint64) *faker {
	return &faker{f: gofakeit.New(seed)}
}

type fakeField func(f *gofakeit.Faker) any

var fakeFields = map[string]fakeField{
	"person.firstName":         func(f *gofakeit.Faker) any { return f.FirstName() },
	"person.lastName":          func(f *gofakeit.Faker) any { return f.LastName() },
	"person.fullName":          func(f *gofakeit.Faker) any { return f.Name() },
	"person.gender":            func(f *gofakeit.Faker) any { return f.Gender() },
	"person.jobTitle":          func(f *gofakeit.Faker) any { return f.JobTitle() },
	"internet.email":           func(f *gofakeit.Faker) any { return f.Email() },
	"internet.userName":        func(f *gofakeit.Faker) any { return f.Username() },
	"internet.password":        func(f *gofakeit.Faker) any { return f.Password(true, true, true, true, false, 14) },
	"internet.url":             func(f *gofakeit.Faker) any { return f.URL() },
	"internet.domainName":      func(f *gofakeit.Faker) any { return f.DomainName() },
	"internet.ipv4":            func(f *gofakeit.Faker) any { return f.IPv4Address() },
	"internet.userAgent":       func(f *gofakeit.Faker) any { return f.UserAgent() },
	"phone.number":             func(f *gofakeit.Faker) any { return f.Phone() },
	"location.city":            func(f *gofakeit.Faker) any { return f.City() },
	"location.street":          func(f *gofakeit.Faker) any { return f.Street() },
	"location.zipCode":         func(f *gofakeit.Faker) any { return f.Zip() },
	"location.state":           func(f *gofakeit.Faker) any { return f.State() },
	"location.country":         func(f *gofakeit.Faker) any { return f.Country() },
	"location.latitude":        func(f *gofakeit.Faker) any { return f.Latitude() },
	"location.longitude":       func(f *gofakeit.Faker) any { return f.Longitude() },
	"company.name":             func(f *gofakeit.Faker) any { return f.Company() },
	"commerce.productName":     func(f *gofakeit.Faker) any { return f.ProductName() },
	"commerce.price":           func(f *gofakeit.Faker) any { return f.Price(1, 1000) },
	"finance.creditCardNumber": func(f *gofakeit.Faker) any { return f.CreditCardNumber(nil) },
	"finance.currencyCode":     func(f *gofakeit.Faker) any { return f.CurrencyShort() },
	"lorem.word":               func(f *gofakeit.Faker) any { return f.Word() },
	"color.human":              func(f *gofakeit.Faker) any { return f.Color() },
	"string.uuid":              func(f *gofakeit.Faker) any { return f.UUID() },
	"datatype.boolean":         func(f *gofakeit.Faker) any { return f.Bool() },
	"number.int":               func(f *gofakeit.Faker) any { return f.Number(1, 100000) },
	"date.past":                func(f *gofakeit.Faker) any { return f.PastDate().UTC().Format(time.RFC3339) },
	"date.future":              func(f *gofakeit.Faker) any { return f.FutureDate().UTC().Format(time.RFC3339) },
}

// generate serves $faker.<category>.<field>.
func (fk *faker) generate(args []string) (any, error) {
	key := strings.Join(args, ".")
	field, ok := fakeFields[key]
	if !ok {
		return nil, fmt.Errorf("unknown fake data field %q", key)
	}
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return field(fk.f), nil
}

// randomInt serves $randomInt and $randomInt.<min>.<max>.
func (fk *faker) randomInt(args []string) (any, error) {
	lo, hi := 0, 1_000_000
	if len(args) == 2 {
		var err error
		if lo, err = strconv.Atoi(args[0]); err != nil {
			return nil, fmt.Errorf("randomInt min: %w", err)
		}
		if hi, err = strconv.Atoi(args[1]); err != nil {
			return nil, fmt.Errorf("randomInt max: %w", err)
		}
	} else if len(args) != 0 {
		return nil, fmt.Errorf("randomInt takes no arguments or <min>.<max>")
	}
	if lo > hi {
		return nil, fmt.Errorf("randomInt min %d is greater than max %d", lo, hi)
	}

	fk.mu.Lock()
	defer fk.mu.Unlock()
	return fk.f.IntRange(lo, hi), nil
}

// FakeFields lists the supported $faker paths.
func FakeFields() []string {
	keys := make([]string, 0, len(fakeFields))
	for k := range fakeFields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
