// Copyright 2025 TenantGrid
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"fmt"
	"sort"
	"strings"
)

// updateQuery builds a parameterized UPDATE statement from set and where
// column maps. Columns are emitted in sorted order so the generated SQL is
// deterministic.
func updateQuery(table string, sets, wheres map[string]interface{}) (string, []interface{}) {
	setCols := sortedKeys(sets)
	whereCols := sortedKeys(wheres)

	var sb strings.Builder
	args := make([]interface{}, 0, len(sets)+len(wheres))
	n := 1

	sb.WriteString("UPDATE ")
	sb.WriteString(table)
	sb.WriteString(" SET ")
	for i, col := range setCols {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s = $%d", col, n)
		args = append(args, sets[col])
		n++
	}

	if len(whereCols) > 0 {
		sb.WriteString(" WHERE ")
		for i, col := range whereCols {
			if i > 0 {
				sb.WriteString(" AND ")
			}
			fmt.Fprintf(&sb, "%s = $%d", col, n)
			args = append(args, wheres[col])
			n++
		}
	}

	return sb.String(), args
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
