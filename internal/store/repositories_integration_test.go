// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/storyengine/internal/clock"
	"github.com/holomush/storyengine/internal/core"
	"github.com/holomush/storyengine/internal/game"
	"github.com/holomush/storyengine/internal/queue"
	queuepg "github.com/holomush/storyengine/internal/queue/postgres"
	"github.com/holomush/storyengine/internal/readstate"
	"github.com/holomush/storyengine/internal/staging"
	stagingpg "github.com/holomush/storyengine/internal/staging/postgres"
)

type playerAction struct {
	PlayerID string `json:"player_id"`
}

var _ = Describe("PostgreSQL repositories", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("stagings", func() {
		var repo *stagingpg.Repository

		BeforeEach(func() {
			repo = stagingpg.NewRepository(testPool)
		})

		newStaging := func(regionID string) staging.Staging {
			return staging.Staging{
				ID:         core.NewID(),
				WorldID:    "world-it",
				RegionID:   regionID,
				LocationID: "loc-it",
				NPCs:       []game.StagedNPC{{CharacterID: "npc-1", Name: "Marta", IsPresent: true}},
				GameTime:   game.NewGameTime(game.DefaultStart),
				ApprovedAt: time.Now().UTC().Truncate(time.Microsecond),
				TTLHours:   staging.DefaultTTLHours,
				ApprovedBy: "dm",
				Source:     staging.SourceDMManual,
			}
		}

		It("keeps exactly one active staging under concurrent replacement", func() {
			region := "region-" + core.NewID()

			var wg sync.WaitGroup
			for range 8 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					// A losing transaction may see a conflict; the index keeps the table consistent.
					_ = repo.ReplaceActive(ctx, newStaging(region))
				}()
			}
			wg.Wait()

			var active int
			Expect(testPool.QueryRow(ctx,
				`SELECT count(*) FROM stagings WHERE region_id = $1 AND is_active`, region).Scan(&active)).To(Succeed())
			Expect(active).To(Equal(1))

			current, err := repo.Active(ctx, region)
			Expect(err).NotTo(HaveOccurred())
			Expect(current).NotTo(BeNil())
			Expect(current.NPCs).To(HaveLen(1))
		})

		It("returns history newest first", func() {
			region := "region-" + core.NewID()
			first := newStaging(region)
			Expect(repo.ReplaceActive(ctx, first)).To(Succeed())
			second := newStaging(region)
			second.ApprovedAt = first.ApprovedAt.Add(time.Minute)
			Expect(repo.ReplaceActive(ctx, second)).To(Succeed())

			history, err := repo.History(ctx, region, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(2))
			Expect(history[0].ID).To(Equal(second.ID))
			Expect(history[0].IsActive).To(BeTrue())
			Expect(history[1].IsActive).To(BeFalse())
		})
	})

	Describe("queue", func() {
		It("hands each item to exactly one consumer", func() {
			q := queuepg.New[playerAction](testPool, "it_"+core.NewID(), clock.System{})
			for i := range 20 {
				_, err := q.Enqueue(ctx, playerAction{PlayerID: fmt.Sprintf("p%d", i)}, queue.PriorityPlayer)
				Expect(err).NotTo(HaveOccurred())
			}

			var (
				mu   sync.Mutex
				seen = map[string]int{}
				wg   sync.WaitGroup
			)
			for range 4 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					for {
						item, err := q.Dequeue(ctx)
						Expect(err).NotTo(HaveOccurred())
						if item == nil {
							return
						}
						mu.Lock()
						seen[item.ID]++
						mu.Unlock()
						Expect(q.Complete(ctx, item.ID)).To(Succeed())
					}
				}()
			}
			wg.Wait()

			Expect(seen).To(HaveLen(20))
			for _, n := range seen {
				Expect(n).To(Equal(1))
			}
			depth, err := q.Depth(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(depth).To(BeZero())
		})
	})

	Describe("read state", func() {
		It("marks, lists and clears read items", func() {
			rs := readstate.NewPostgres(testPool, clock.System{})
			key := readstate.Key{UserID: "u-" + core.NewID(), WorldID: "world-it", EntityType: readstate.EntityBatch, ItemID: "batch-1"}

			Expect(rs.MarkRead(ctx, key)).To(Succeed())
			Expect(rs.MarkRead(ctx, key)).To(Succeed())
			read, err := rs.IsRead(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(read).To(BeTrue())

			ids, err := rs.ListRead(ctx, key.UserID, key.WorldID, readstate.EntityBatch)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(ConsistOf("batch-1"))

			Expect(rs.MarkUnread(ctx, key)).To(Succeed())
			read, err = rs.IsRead(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(read).To(BeFalse())
		})
	})
})
