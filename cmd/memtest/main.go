// Command memtest reports the heap cost of a hydrated zone mirror as it
// absorbs a stream of synthetic notifications.
package main

import (
	"flag"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/docker/go-units"
	"github.com/shopspring/decimal"

	"github.com/relativeprotocol/zoneclient/model"
	"github.com/relativeprotocol/zoneclient/protocol"
	"github.com/relativeprotocol/zoneclient/replica"
)

func printStats(tag string) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	fmt.Printf("%-24s alloc=%-10s total=%-10s sys=%-10s heapObjects=%d gcCycles=%d\n",
		tag+":",
		units.BytesSize(float64(m.Alloc)),
		units.BytesSize(float64(m.TotalAlloc)),
		units.BytesSize(float64(m.Sys)),
		m.HeapObjects, m.NumGC)
}

func key(i int) model.PublicKey {
	return model.PublicKeyFromBytes([]byte(fmt.Sprintf("device-%06d", i)))
}

func seedZone(members int) model.Zone {
	zone := model.NewZone("memtest")
	zone.Name = "Memory Test"
	zone.EquityAccountID = "A0"
	zone.Members["M0"] = model.Member{ID: "M0", Name: "Banker", OwnerPublicKeys: []model.PublicKey{key(0)}}
	zone.Accounts["A0"] = model.Account{ID: "A0", Name: "Banker", OwnerMemberIDs: []model.MemberID{"M0"}}
	for i := 1; i < members; i++ {
		mid := model.MemberID(fmt.Sprintf("M%d", i))
		aid := model.AccountID(fmt.Sprintf("A%d", i))
		zone.Members[mid] = model.Member{ID: mid, Name: fmt.Sprintf("Player %d", i), OwnerPublicKeys: []model.PublicKey{key(i)}}
		zone.Accounts[aid] = model.Account{ID: aid, Name: "Wallet", OwnerMemberIDs: []model.MemberID{mid}}
	}
	zone.Created = time.Now()
	zone.Expires = zone.Created.Add(24 * time.Hour)
	return *zone
}

func main() {
	members := flag.Int("members", 50, "members in the seeded zone")
	transactions := flag.Int("transactions", 100000, "transactions to apply after hydrating")
	flag.Parse()

	if *members < 2 {
		*members = 2
	}

	printStats("startup")
	events := 0
	r := replica.New(key(0), func(replica.Event) { events++ }, nil)
	if err := r.Hydrate(seedZone(*members), []model.PublicKey{key(0), key(1)}); err != nil {
		panic(err)
	}
	printStats("after Hydrate")

	unit := decimal.RequireFromString("1.25")
	now := time.Now()
	for i := 0; i < *transactions; i++ {
		to := model.AccountID(fmt.Sprintf("A%d", 1+i%(*members-1)))
		err := r.Apply(protocol.TransactionAdded{Transaction: model.Transaction{
			ID:      model.TransactionID(fmt.Sprintf("T%d", i)),
			From:    "A0",
			To:      to,
			Value:   unit,
			Creator: "M0",
			Created: now,
		}})
		if err != nil {
			panic(err)
		}
		if i > 0 && i%(*transactions/4+1) == 0 {
			printStats(fmt.Sprintf("after %d transactions", i))
		}
	}
	printStats("after transactions")

	runtime.GC()
	printStats("after GC")
	debug.FreeOSMemory()
	printStats("after FreeOSMemory")

	equity, _ := r.AccountBalance("A0")
	fmt.Printf("events=%d equity=%s\n", events, equity)

	r.Clear()
	runtime.GC()
	printStats("after Clear")
}
